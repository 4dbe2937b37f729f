package domain

import (
	"time"
)

// WorkerSnapshot is one worker's resource state at one sampling instant.
// Rows are produced by the monitoring pipeline; placement only reads them.
type WorkerSnapshot struct {
	WorkerID       string    `json:"worker_id"`
	Timestamp      time.Time `json:"timestamp"`
	CPUTotal       float64   `json:"cpu_total"`
	CPUUsed        float64   `json:"cpu_used"`
	RAMTotalGB     float64   `json:"ram_total_gb"`
	RAMUsedGB      float64   `json:"ram_used_gb"`
	StorageTotalGB float64   `json:"storage_total_gb"`
	StorageUsedGB  float64   `json:"storage_used_gb"`
}

// Free returns the unused capacity of the worker at the time of the sample.
func (s WorkerSnapshot) Free() Resources {
	return Resources{
		CPU:       s.CPUTotal - s.CPUUsed,
		RAMGB:     s.RAMTotalGB - s.RAMUsedGB,
		StorageGB: s.StorageTotalGB - s.StorageUsedGB,
	}
}

// Resources is a cpu/ram/storage triple. CPU is in cores, the rest in GB.
type Resources struct {
	CPU       float64 `json:"cpu"`
	RAMGB     float64 `json:"ram_gb"`
	StorageGB float64 `json:"storage_gb"`
}

// Add returns the component-wise sum.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		CPU:       r.CPU + o.CPU,
		RAMGB:     r.RAMGB + o.RAMGB,
		StorageGB: r.StorageGB + o.StorageGB,
	}
}

// Sub returns the component-wise difference.
func (r Resources) Sub(o Resources) Resources {
	return Resources{
		CPU:       r.CPU - o.CPU,
		RAMGB:     r.RAMGB - o.RAMGB,
		StorageGB: r.StorageGB - o.StorageGB,
	}
}

// CapacityEpsilon absorbs float rounding when requirements scaled by zone
// factors are compared against, or subtracted from, free capacity.
const CapacityEpsilon = 1e-9

// WithinCapacity reports whether required fits in free, allowing for
// CapacityEpsilon of rounding error.
func WithinCapacity(required, free float64) bool {
	return required <= free+CapacityEpsilon
}

// Fits reports whether r fits within capacity on every dimension.
func (r Resources) Fits(capacity Resources) bool {
	return WithinCapacity(r.CPU, capacity.CPU) &&
		WithinCapacity(r.RAMGB, capacity.RAMGB) &&
		WithinCapacity(r.StorageGB, capacity.StorageGB)
}

// Settle zeroes components that rounding left within CapacityEpsilon of
// zero, so an exactly consumed worker reports no capacity left.
func (r Resources) Settle() Resources {
	settle := func(v float64) float64 {
		if v > -CapacityEpsilon && v < CapacityEpsilon {
			return 0
		}
		return v
	}
	return Resources{
		CPU:       settle(r.CPU),
		RAMGB:     settle(r.RAMGB),
		StorageGB: settle(r.StorageGB),
	}
}
