package kubernetes

import "encoding/json"

// Phase is the internal reconcile phase tracked in controller_metadata
// (spec §4.5).
type Phase string

const (
	PhaseNotStarted             Phase = "NotStarted"
	PhaseCreatingNamespace      Phase = "CreatingNamespace"
	PhaseCreatingImagePullSecret Phase = "CreatingImagePullSecret"
	PhaseCreatingService        Phase = "CreatingService"
	PhaseCreatingReplicaSet     Phase = "CreatingReplicaSet"
	PhaseWaitingForReplicaSet   Phase = "WaitingForReplicaSet"
	PhaseUpdatingIngress        Phase = "UpdatingIngress"
	PhaseWaitingForHealth       Phase = "WaitingForHealth"
	PhaseSwitchingTraffic       Phase = "SwitchingTraffic"
	PhaseCompleted              Phase = "Completed"
)

// Metadata is the Kubernetes backend's private controller_metadata schema
// (spec §4.5).
type Metadata struct {
	Namespace      string `json:"namespace,omitempty"`
	ServiceName    string `json:"service_name,omitempty"`
	IngressName    string `json:"ingress_name,omitempty"`
	ReplicaSetName string `json:"replicaset_name,omitempty"`
	DeploymentID   string `json:"deployment_id,omitempty"`
	HTTPPort       int    `json:"http_port"`
	ImageTag       string `json:"image_tag,omitempty"`
	ReconcilePhase Phase  `json:"reconcile_phase"`
}

const defaultHTTPPort = 8080

func decodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{HTTPPort: defaultHTTPPort, ReconcilePhase: PhaseNotStarted}, nil
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, err
	}
	if m.HTTPPort == 0 {
		m.HTTPPort = defaultHTTPPort
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
