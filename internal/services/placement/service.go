// Package placement provides the slice placement service. It converts wire
// requests, serializes decisions when configured, runs the scheduler and
// reports every decision to metrics and subscribers.
package placement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
	"github.com/sliceorch/placement/internal/monitoring"
	"github.com/sliceorch/placement/internal/scheduler"
)

// LockName is the name of the lock shared by every replica.
const LockName = "placement"

// Placer computes placement plans.
type Placer interface {
	Place(ctx context.Context, req *domain.SliceRequest) *domain.PlacementPlan
	Zones() scheduler.ZoneTable
}

// Locker serializes placements across replicas.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// EventPublisher receives every decision.
type EventPublisher interface {
	PublishPlacement(ctx context.Context, requestID string, ok bool, payload interface{}) error
}

// Option configures a Service.
type Option func(*Service)

// WithLocker serializes placements with locker.
func WithLocker(locker Locker) Option {
	return func(s *Service) { s.locker = locker }
}

// WithEvents publishes decisions to events.
func WithEvents(events EventPublisher) Option {
	return func(s *Service) { s.events = events }
}

// WithMonitor records decisions in monitor.
func WithMonitor(monitor *monitoring.Monitor) Option {
	return func(s *Service) { s.monitor = monitor }
}

// WithDiagnostics controls whether responses carry the diagnostic trail.
func WithDiagnostics(enabled bool) Option {
	return func(s *Service) { s.diagnostics = enabled }
}

// Service answers placement requests.
type Service struct {
	placer      Placer
	locker      Locker
	events      EventPublisher
	monitor     *monitoring.Monitor
	diagnostics bool
	newID       func() string
	logger      *zap.Logger
}

// NewService creates a new placement service.
func NewService(placer Placer, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		placer:      placer,
		diagnostics: true,
		newID:       func() string { return uuid.New().String() },
		logger:      logger.Named("placement-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Place answers one request. It always returns a response; faults are
// reported in it rather than returned.
func (s *Service) Place(ctx context.Context, req *Request) (resp *Response) {
	requestID := s.newID()
	logger := s.logger.With(zap.String("request_id", requestID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Placement request panicked", zap.Any("panic", r))
			resp = failureResponse(requestID, domain.FailureInternal, fmt.Sprintf("internal placement error: %v", r))
		}
	}()

	if req == nil {
		return failureResponse(requestID, domain.FailureInvalidRequest, "empty placement request")
	}

	slice, err := toSliceRequest(req, logger)
	if err != nil {
		logger.Warn("Invalid placement request", zap.Error(err))
		return failureResponse(requestID, domain.FailureInvalidRequest, err.Error())
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if err != nil {
			logger.Error("Failed to acquire placement lock", zap.Error(err))
			return failureResponse(requestID, domain.FailureInternal, fmt.Sprintf("placement lock unavailable: %v", err))
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release placement lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	plan := s.placer.Place(ctx, slice)
	took := time.Since(start)

	s.monitor.ObservePlacement(plan, took)

	resp = toResponse(requestID, req, plan, s.diagnostics)

	logger.Info("Placement decided",
		zap.String("zone", plan.Zone),
		zap.String("mode", string(plan.Mode)),
		zap.Bool("can_deploy", resp.CanDeploy),
		zap.Strings("workers", plan.Workers()),
		zap.String("failure", string(plan.Failure)),
		zap.Duration("took", took),
	)

	if s.events != nil {
		// Subscribers get the response without the diagnostic trail.
		event := *resp
		event.Diagnostics = nil
		_ = s.events.PublishPlacement(ctx, requestID, resp.CanDeploy, &event)
	}

	return resp
}

// Reject answers a request that could not be decoded.
func (s *Service) Reject(msg string) *Response {
	requestID := s.newID()
	s.logger.Warn("Rejected malformed placement request",
		zap.String("request_id", requestID),
		zap.String("error", msg),
	)
	return failureResponse(requestID, domain.FailureInvalidRequest, msg)
}

// ZoneView is the public description of one zone.
type ZoneView struct {
	Name              string          `json:"name"`
	DisplayName       string          `json:"display_name"`
	CPUFactor         float64         `json:"cpu_factor"`
	RAMFactor         float64         `json:"ram_factor"`
	StorageFactor     float64         `json:"storage_factor"`
	CPUThresholdPct   float64         `json:"cpu_threshold_pct"`
	SustainedDuration string          `json:"sustained_duration"`
	WorkerPool        []string        `json:"worker_pool"`
	Platform          domain.Platform `json:"platform"`
}

// Zones lists the zone policy, ordered by name.
func (s *Service) Zones() []ZoneView {
	profiles := s.placer.Zones().Profiles()
	out := make([]ZoneView, 0, len(profiles))
	for _, p := range profiles {
		pool := p.WorkerPool
		if pool == nil {
			pool = []string{}
		}
		out = append(out, ZoneView{
			Name:              p.Name,
			DisplayName:       p.DisplayName,
			CPUFactor:         p.CPUFactor,
			RAMFactor:         p.RAMFactor,
			StorageFactor:     p.StorageFactor,
			CPUThresholdPct:   p.CPUThresholdPct,
			SustainedDuration: p.SustainedDuration.String(),
			WorkerPool:        pool,
			Platform:          p.Platform,
		})
	}
	return out
}
