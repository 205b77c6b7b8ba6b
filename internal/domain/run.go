package domain

type RunState string

const (
	RunInitializing   RunState = "initializing"
	RunAuthenticating RunState = "authenticating"
	RunRunning        RunState = "running"
	RunCompleted      RunState = "completed"
	RunAborted        RunState = "aborted"
)

func (s RunState) String() string {
	return string(s)
}

// Terminal reports whether the run can make no further transitions.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunAborted
}

type CellState string

const (
	CellPending     CellState = "pending"
	CellResetting   CellState = "resetting"
	CellInjecting   CellState = "injecting"
	CellSending     CellState = "sending"
	CellExtracting  CellState = "extracting"
	CellClassifying CellState = "classifying"
	CellPersisted   CellState = "persisted"
	CellFailed      CellState = "failed"
)

func (s CellState) String() string {
	return string(s)
}

// TestCell is one (persona, prompt) trial within a run. SequenceNumber is
// global within the run, strictly increasing and never reused.
type TestCell struct {
	RunID          string `json:"run_id"`
	PersonaID      string `json:"persona_id"`
	PromptID       string `json:"prompt_id"`
	SequenceNumber int    `json:"sequence_number"`
}

// RunSummary is the end-of-run report surfaced to the caller.
type RunSummary struct {
	RunID       string   `json:"run_id"`
	State       RunState `json:"state"`
	Total       int      `json:"total"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	SuccessRate float64  `json:"success_rate"`
}
