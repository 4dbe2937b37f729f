package domain

import (
	"fmt"
	"time"
)

// Platform identifies the deployment backend a zone is served by.
type Platform string

const (
	PlatformLinux     Platform = "linux"
	PlatformOpenStack Platform = "openstack"
)

// ZoneProfile is the placement policy of an availability zone.
type ZoneProfile struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`

	// Overprovisioning factors. Requirements are divided by them, so a
	// factor of 16 means 16 requested cores consume one physical core.
	CPUFactor     float64 `json:"cpu_factor"`
	RAMFactor     float64 `json:"ram_factor"`
	StorageFactor float64 `json:"storage_factor"`

	// CPUThresholdPct and SustainedDuration define sustained overload.
	CPUThresholdPct   float64       `json:"cpu_threshold_pct"`
	SustainedDuration time.Duration `json:"sustained_duration"`

	// WorkerPool lists the workers eligible for the zone. Empty means every
	// worker that reports metrics.
	WorkerPool []string `json:"worker_pool"`

	Platform Platform `json:"platform"`
}

// Validate checks the policy rules of the profile.
func (z ZoneProfile) Validate() error {
	if z.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidZone)
	}
	factors := []struct {
		name  string
		value float64
	}{
		{"cpu_factor", z.CPUFactor},
		{"ram_factor", z.RAMFactor},
		{"storage_factor", z.StorageFactor},
	}
	for _, f := range factors {
		if f.value < 1 {
			return fmt.Errorf("%w: zone %s %s must be >= 1, got %v", ErrInvalidZone, z.Name, f.name, f.value)
		}
	}
	if z.CPUThresholdPct <= 0 || z.CPUThresholdPct > 100 {
		return fmt.Errorf("%w: zone %s cpu threshold must be in (0,100], got %v", ErrInvalidZone, z.Name, z.CPUThresholdPct)
	}
	if z.SustainedDuration <= 0 {
		return fmt.Errorf("%w: zone %s sustained duration must be positive", ErrInvalidZone, z.Name)
	}
	return nil
}

// Effective divides a raw requirement by the zone factors.
func (z ZoneProfile) Effective(raw Resources) Resources {
	return Resources{
		CPU:       raw.CPU / z.CPUFactor,
		RAMGB:     raw.RAMGB / z.RAMFactor,
		StorageGB: raw.StorageGB / z.StorageFactor,
	}
}

// Clone returns a deep copy of the profile.
func (z ZoneProfile) Clone() ZoneProfile {
	c := z
	c.WorkerPool = append([]string(nil), z.WorkerPool...)
	return c
}
