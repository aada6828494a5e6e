package local

import "encoding/json"

// Phase is the internal reconcile phase tracked in controller_metadata
// (spec §4.4).
type Phase string

const (
	PhaseNotStarted       Phase = "NotStarted"
	PhaseCreatingContainer Phase = "CreatingContainer"
	PhaseStartingContainer Phase = "StartingContainer"
	PhaseWaitingForHealth Phase = "WaitingForHealth"
	PhaseCompleted        Phase = "Completed"
)

// Metadata is the local-container backend's private controller_metadata
// schema (spec §4.4).
type Metadata struct {
	ContainerID    string `json:"container_id,omitempty"`
	ContainerName  string `json:"container_name,omitempty"`
	AssignedPort   int    `json:"assigned_port,omitempty"`
	InternalPort   int    `json:"internal_port"`
	ImageTag       string `json:"image_tag,omitempty"`
	ReconcilePhase Phase  `json:"reconcile_phase"`
}

const defaultInternalPort = 8080

func decodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{InternalPort: defaultInternalPort, ReconcilePhase: PhaseNotStarted}, nil
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, err
	}
	if m.InternalPort == 0 {
		m.InternalPort = defaultInternalPort
	}
	if m.ReconcilePhase == "" {
		m.ReconcilePhase = PhaseNotStarted
	}
	return m, nil
}

func (m Metadata) encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
