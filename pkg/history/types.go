// Package history records deployment runs: their state transitions, warnings,
// and captured log lines. Records are the observable outcome of each pipeline
// run.
package history

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of one pipeline run.
type State string

const (
	StatePending   State = "PENDING"
	StateBuilding  State = "BUILDING"
	StateImaging   State = "IMAGING"
	StateDeploying State = "DEPLOYING"
	StateVerifying State = "VERIFYING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether a run in this state is finished.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Warning is a non-fatal problem collected during a run. Warnings ride along
// a successful exit code.
type Warning struct {
	Class   string `json:"class"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Record describes one deployment run and the instance it produced.
type Record struct {
	ID              string    `json:"id"`
	InstanceName    string    `json:"instance_name"`
	ImageRef        string    `json:"image_ref"`
	ArtifactVersion string    `json:"artifact_version,omitempty"`
	HostPort        int       `json:"host_port"`
	ContainerPort   int       `json:"container_port"`
	State           State     `json:"state"`
	Warnings        []Warning `json:"warnings,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}

// Degraded reports whether the run succeeded but carries verify warnings.
func (r Record) Degraded() bool {
	if r.State != StateSucceeded {
		return false
	}
	for _, w := range r.Warnings {
		if w.Class == "VerifyWarning" {
			return true
		}
	}
	return false
}

// Event is one recorded state transition of a run.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord creates a pending record for an upcoming run.
func NewRecord(instanceName, imageRef string, hostPort, containerPort int) Record {
	now := time.Now().UTC()
	return Record{
		ID:            uuid.NewString(),
		InstanceName:  instanceName,
		ImageRef:      imageRef,
		HostPort:      hostPort,
		ContainerPort: containerPort,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
