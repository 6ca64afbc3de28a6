package pipeline

import "time"

// Stage names one step of the deployment pipeline as reported to callers.
type Stage string

const (
	StageRepoCheck Stage = "repo_check"
	StageBuild     Stage = "jekyll_build"
	StageSync      Stage = "rsync"
	StageAdd       Stage = "git_add"
	StageCommit    Stage = "git_commit"
	StagePush      Stage = "git_push"
	StageTimeout   Stage = "timeout"
	StageUnknown   Stage = "unknown"
)

// State is the progress of a step within a single run.
type State string

const (
	StateStarted   State = "started"
	StateCompleted State = "completed"
	StateSkipped   State = "skipped"
	StateFailed    State = "failed"
)

// Event reports step progress while the pipeline runs.
type Event struct {
	Stage   Stage     `json:"stage"`
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"timestamp"`
}

// Observer receives events synchronously, in pipeline order.
type Observer func(Event)

// StepResult is the transient record of one executed step.
type StepResult struct {
	Stage    Stage         `json:"stage"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StageError is returned for any failed run. Stage is what callers report;
// Step is the pipeline step that was executing, which differs from Stage for
// timeouts and unexpected errors.
type StageError struct {
	Stage   Stage
	Step    Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return e.Message
}

func (e *StageError) Unwrap() error {
	return e.Err
}
