package domain

// ResolvedMount is a file mount whose path has passed the permission check.
type ResolvedMount struct {
	Path      string `json:"path"`
	ReadOnly  bool   `json:"readOnly"`
	Directory bool   `json:"directory"`
}

// VerifiedJob is a job request with all references resolved. It is never persisted.
type VerifiedJob struct {
	Job         Job             `json:"job"`
	Application Application     `json:"application"`
	Product     Product         `json:"product"`
	Support     ProductSupport  `json:"support"`
	Mounts      []ResolvedMount `json:"mounts"`
	Peers       []PeerValue     `json:"peers"`
	Bindings    []ResourceValue `json:"bindings"`
	Arguments   []string        `json:"arguments"`
	Parameters  Parameters      `json:"parameters"`

	// EstimatedCost is the price of the full time allocation.
	EstimatedCost int64 `json:"estimatedCost"`
}

// Features returns the provider features available to this job.
func (v *VerifiedJob) Features() FeatureSet {
	return v.Support.Features(v.Application.Backend)
}
