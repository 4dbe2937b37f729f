package placement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
)

// Fallbacks for resource strings that cannot be parsed.
const (
	DefaultRAMGB     = 1.0
	DefaultStorageGB = 10.0
)

// Wire mode names.
const (
	ModeSingleWorker = "single-worker"
	ModeMultiWorker  = "multi-worker"
)

// ============================================================================
// Wire types
// ============================================================================

// Request is the slice description sent by the slice manager.
type Request struct {
	Zone string `json:"zone"`
	// LegacyZone is the field name used by older slice managers.
	LegacyZone string     `json:"zonadisponibilidad,omitempty"`
	Instances  []Instance `json:"instancias"`
}

// Instance is one VM of the slice. Resource values may be JSON strings or
// numbers.
type Instance struct {
	Name    string     `json:"nombre"`
	CPU     FlexString `json:"cpu"`
	RAM     FlexString `json:"ram"`
	Storage FlexString `json:"storage"`
}

// FlexString decodes a JSON string or number into its text form.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a string or a number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// Assignment maps one VM to its worker.
type Assignment struct {
	VMName string `json:"nombre_vm"`
	Worker string `json:"worker"`
}

// Response is the answer sent back to the slice manager.
type Response struct {
	RequestID   string              `json:"request_id"`
	CanDeploy   bool                `json:"can_deploy"`
	Plan        []Assignment        `json:"placement_plan"`
	Mode        string              `json:"modo,omitempty"`
	Error       string              `json:"error,omitempty"`
	Failure     domain.FailureKind  `json:"failure,omitempty"`
	Zone        string              `json:"zona,omitempty"`
	Platform    domain.Platform     `json:"plataforma,omitempty"`
	Diagnostics *domain.Diagnostics `json:"diagnostics,omitempty"`
}

// failureResponse builds a response for a request that never reached the engine.
func failureResponse(requestID string, kind domain.FailureKind, msg string) *Response {
	return &Response{
		RequestID: requestID,
		Plan:      []Assignment{},
		Error:     msg,
		Failure:   kind,
	}
}

// ============================================================================
// Wire to Domain Converters
// ============================================================================

// toSliceRequest converts the wire request. A malformed cpu count rejects
// the request; malformed ram or storage fall back to defaults with a warning.
func toSliceRequest(req *Request, logger *zap.Logger) (*domain.SliceRequest, error) {
	zone := req.Zone
	if strings.TrimSpace(zone) == "" {
		zone = req.LegacyZone
	}

	slice := &domain.SliceRequest{
		Zone: zone,
		VMs:  make([]domain.VMRequest, 0, len(req.Instances)),
	}

	for i, inst := range req.Instances {
		cpu, err := domain.ParseCores(string(inst.CPU))
		if err != nil {
			return nil, fmt.Errorf("instance %d (%s): %w", i, inst.Name, err)
		}

		ram, err := domain.ParseSizeGB(string(inst.RAM))
		if err != nil {
			logger.Warn("Unparseable RAM, using default",
				zap.Int("index", i),
				zap.String("value", string(inst.RAM)),
				zap.Float64("default_gb", DefaultRAMGB),
			)
			ram = DefaultRAMGB
		}

		storage, err := domain.ParseSizeGB(string(inst.Storage))
		if err != nil {
			logger.Warn("Unparseable storage, using default",
				zap.Int("index", i),
				zap.String("value", string(inst.Storage)),
				zap.Float64("default_gb", DefaultStorageGB),
			)
			storage = DefaultStorageGB
		}

		slice.VMs = append(slice.VMs, domain.VMRequest{
			Index:     i,
			Name:      inst.Name,
			CPUCores:  cpu,
			RAMGB:     ram,
			StorageGB: storage,
		})
	}

	return slice, nil
}

// ============================================================================
// Domain to Wire Converters
// ============================================================================

// toResponse converts a plan. Assignments follow request order and are only
// reported when the whole slice is placed.
func toResponse(requestID string, req *Request, plan *domain.PlacementPlan, withDiagnostics bool) *Response {
	resp := &Response{
		RequestID: requestID,
		CanDeploy: plan.OK(),
		Plan:      []Assignment{},
		Failure:   plan.Failure,
		Zone:      plan.Zone,
		Platform:  plan.Platform,
	}

	switch {
	case plan.Mode == domain.ModeSingle:
		resp.Mode = ModeSingleWorker
	case plan.Mode == domain.ModeMulti, plan.Failure == domain.FailureInfeasible && len(plan.Unassigned) > 0:
		resp.Mode = ModeMultiWorker
	}

	if resp.CanDeploy {
		for i, inst := range req.Instances {
			worker, ok := plan.WorkerFor(i)
			if !ok {
				continue
			}
			resp.Plan = append(resp.Plan, Assignment{VMName: inst.Name, Worker: worker})
		}
	} else {
		resp.Error = plan.Message
	}

	if withDiagnostics {
		diag := plan.Diagnostics
		resp.Diagnostics = &diag
	}
	return resp
}
