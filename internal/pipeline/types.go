package pipeline

// State is a step of the run state machine.
type State string

const (
	StateStart      State = "start"
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateReviewing  State = "reviewing"
	StateRefining   State = "refining"
	StateTagging    State = "tagging"
	StateFinalized  State = "finalized"
)

// MaxRefinements bounds refine calls per run.
const MaxRefinements = 2

// Progress reports a state transition within a run.
type Progress struct {
	RunID   string `json:"run_id"`
	State   State  `json:"state"`
	Attempt int    `json:"attempt"`
	Message string `json:"message,omitempty"`
}

// ProgressCallback receives progress updates during a run. It is called
// synchronously from the run's goroutine.
type ProgressCallback func(progress Progress)
