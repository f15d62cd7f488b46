package domain

// PipelineState is the ingestion pipeline state machine position.
type PipelineState string

const (
	StateInitializing PipelineState = "initializing"
	StateLoading      PipelineState = "loading"
	StateReady        PipelineState = "ready"
	StatePartial      PipelineState = "partial"
	StateError        PipelineState = "error"
)

// PipelineStatus is the read-only ingestion progress surface exposed
// to callers.
type PipelineStatus struct {
	State         PipelineState `json:"status"`
	DocumentCount int           `json:"document_count"`
	ChunkCount    int           `json:"chunk_count"`
	Errors        []string      `json:"errors"`
}

// Usable reports whether the knowledge capability can serve queries.
// PARTIAL still serves the successfully ingested document types.
func (s PipelineStatus) Usable() bool {
	return s.State == StateReady || s.State == StatePartial
}
