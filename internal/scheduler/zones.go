package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sliceorch/placement/internal/domain"
)

// ZoneTable is the immutable zone policy table. It is built once at startup
// and shared by every placement call.
type ZoneTable struct {
	zones map[string]domain.ZoneProfile
}

// NewZoneTable validates the profiles and builds a table keyed by upper-case
// zone name.
func NewZoneTable(profiles ...domain.ZoneProfile) (ZoneTable, error) {
	zones := make(map[string]domain.ZoneProfile, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return ZoneTable{}, err
		}
		key := normalizeZone(p.Name)
		if _, dup := zones[key]; dup {
			return ZoneTable{}, fmt.Errorf("%w: duplicate zone %s", domain.ErrInvalidZone, p.Name)
		}
		p = p.Clone()
		p.Name = key
		zones[key] = p
	}
	return ZoneTable{zones: zones}, nil
}

// DefaultZones returns the compiled-in zone policy.
func DefaultZones() ZoneTable {
	t, err := NewZoneTable(
		domain.ZoneProfile{
			Name:              "BE",
			DisplayName:       "Best Effort",
			CPUFactor:         16.0,
			RAMFactor:         1.5,
			StorageFactor:     1.0,
			CPUThresholdPct:   90,
			SustainedDuration: 3 * time.Minute,
			WorkerPool:        []string{"server2"},
			Platform:          domain.PlatformLinux,
		},
		domain.ZoneProfile{
			Name:              "HP",
			DisplayName:       "High Priority",
			CPUFactor:         5.0,
			RAMFactor:         1.3,
			StorageFactor:     1.0,
			CPUThresholdPct:   80,
			SustainedDuration: 2 * time.Minute,
			WorkerPool:        []string{"server3", "server4"},
			Platform:          domain.PlatformLinux,
		},
		domain.ZoneProfile{
			Name:              "UHP",
			DisplayName:       "Ultra High Priority",
			CPUFactor:         2.0,
			RAMFactor:         1.1,
			StorageFactor:     1.0,
			CPUThresholdPct:   70,
			SustainedDuration: 1 * time.Minute,
			WorkerPool:        []string{"worker1", "worker2", "worker3"},
			Platform:          domain.PlatformOpenStack,
		},
	)
	if err != nil {
		panic("invalid compiled-in zone table: " + err.Error())
	}
	return t
}

// Get returns a copy of the named profile.
func (t ZoneTable) Get(name string) (domain.ZoneProfile, bool) {
	p, ok := t.zones[normalizeZone(name)]
	if !ok {
		return domain.ZoneProfile{}, false
	}
	return p.Clone(), true
}

// Resolve returns the named profile, or the fallback zone's profile when
// the name is empty or unknown. fellBack reports the latter case.
func (t ZoneTable) Resolve(name, fallback string) (profile domain.ZoneProfile, fellBack bool, err error) {
	if p, ok := t.Get(name); ok {
		return p, false, nil
	}
	p, ok := t.Get(fallback)
	if !ok {
		return domain.ZoneProfile{}, true, fmt.Errorf("%w: default zone %q is not configured", domain.ErrInvalidZone, fallback)
	}
	return p, true, nil
}

// Profiles returns copies of every profile ordered by name.
func (t ZoneTable) Profiles() []domain.ZoneProfile {
	out := make([]domain.ZoneProfile, 0, len(t.zones))
	for _, p := range t.zones {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func normalizeZone(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
