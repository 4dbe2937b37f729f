package domain

// VMRequest is one VM of a slice with its requested resources.
type VMRequest struct {
	// Index is the position of the VM in the caller's slice description.
	Index     int     `json:"index"`
	Name      string  `json:"name,omitempty"`
	CPUCores  int     `json:"cpu_cores"`
	RAMGB     float64 `json:"ram_gb"`
	StorageGB float64 `json:"storage_gb"`
}

// Resources returns the raw (pre-factor) requirement of the VM.
func (v VMRequest) Resources() Resources {
	return Resources{
		CPU:       float64(v.CPUCores),
		RAMGB:     v.RAMGB,
		StorageGB: v.StorageGB,
	}
}

// SliceRequest asks for a placement of every VM of a slice in one zone.
type SliceRequest struct {
	Zone string      `json:"zone"`
	VMs  []VMRequest `json:"vms"`
}

// AggregateDemand sums the raw requirements of all VMs.
func AggregateDemand(vms []VMRequest) Resources {
	var total Resources
	for _, vm := range vms {
		total = total.Add(vm.Resources())
	}
	return total
}
