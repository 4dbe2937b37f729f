// Package etcd provides etcd-backed distributed locking.
package etcd

import (
	"context"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sliceorch/placement/internal/config"
)

// sessionTTL is the lease TTL in seconds. Locks of a crashed replica are
// released when it expires.
const sessionTTL = 30

// Client wraps an etcd client and the session its locks are bound to.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	prefix  string
	logger  *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	session, err := concurrency.NewSession(client, concurrency.WithTTL(sessionTTL))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:  client,
		session: session,
		prefix:  cfg.LockPrefix,
		logger:  logger.With(zap.String("component", "etcd")),
	}, nil
}

// Close closes the etcd session and client.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// Lock represents a held distributed lock.
type Lock struct {
	mutex  *concurrency.Mutex
	logger *zap.Logger
}

// Lock blocks until the named lock is held or ctx is done.
func (c *Client) Lock(ctx context.Context, name string) (*Lock, error) {
	key := path.Join(c.prefix, name)
	mutex := concurrency.NewMutex(c.session, key)

	if err := mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	c.logger.Debug("Acquired lock", zap.String("key", key))

	return &Lock{mutex: mutex, logger: c.logger}, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock(ctx context.Context) error {
	if l.mutex == nil {
		return nil
	}
	key := l.mutex.Key()
	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	l.logger.Debug("Released lock", zap.String("key", key))
	return nil
}

// namedLocker takes a named lock. *Client implements it.
type namedLocker interface {
	Lock(ctx context.Context, name string) (*Lock, error)
}

// MutexLocker hands out one named lock, waiting at most timeout for it.
//
// All locks of a Client share one session, so the etcd mutex cannot tell two
// goroutines of this process apart. The local semaphore admits one at a time.
type MutexLocker struct {
	client  namedLocker
	name    string
	timeout time.Duration
	local   *semaphore.Weighted
}

// NewMutexLocker creates a locker over the named lock.
func NewMutexLocker(client namedLocker, name string, timeout time.Duration) *MutexLocker {
	return &MutexLocker{
		client:  client,
		name:    name,
		timeout: timeout,
		local:   semaphore.NewWeighted(1),
	}
}

// Acquire takes the lock and returns its release function. The release
// function must be called exactly once.
func (l *MutexLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := l.local.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", l.name, err)
	}

	lock, err := l.client.Lock(ctx, l.name)
	if err != nil {
		l.local.Release(1)
		return nil, err
	}

	return func(ctx context.Context) error {
		defer l.local.Release(1)
		return lock.Unlock(ctx)
	}, nil
}
