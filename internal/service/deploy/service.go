package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/pagesdeploy/internal/history"
	"github.com/splax/pagesdeploy/internal/pipeline"
	"github.com/splax/pagesdeploy/internal/status"
)

// ErrBusy is returned when a deployment is already running.
var ErrBusy = errors.New("deployment already in progress")

// StageInProgress is reported for requests rejected by the single-flight guard.
const StageInProgress = "in_progress"

// SuccessMessage is stored as last_message after a successful deployment.
const SuccessMessage = "deploy succeeded"

// PipelineRunner executes one deployment.
type PipelineRunner interface {
	Run(ctx context.Context, observe pipeline.Observer) (pipeline.Outcome, error)
}

// StatusStore persists the deployment status record.
type StatusStore interface {
	Read() status.Status
	Update(fn func(*status.Status)) status.Status
}

// Broadcaster receives encoded pipeline events.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Event is a pipeline event tagged with the deployment it belongs to.
type Event struct {
	DeploymentID string         `json:"deployment_id"`
	Stage        pipeline.Stage `json:"stage"`
	State        pipeline.State `json:"state"`
	Message      string         `json:"message,omitempty"`
	Time         time.Time      `json:"timestamp"`
}

// Result describes a finished deployment attempt.
type Result struct {
	DeploymentID string
	Success      bool
	Stage        pipeline.Stage
	Message      string
	Timestamp    *status.Timestamp
	Count        int
	Committed    bool
	Steps        []pipeline.StepResult
	Duration     time.Duration
}

// Service runs deployments one at a time and records their outcome.
type Service struct {
	mu       sync.Mutex
	base     context.Context
	pipeline PipelineRunner
	status   StatusStore
	history  history.Recorder
	events   Broadcaster
	logger   *slog.Logger
	now      func() time.Time
}

// Options carries the optional collaborators of a Service.
type Options struct {
	History history.Recorder
	Events  Broadcaster
}

// New returns a deployment service. Runs are cancelled when base is done.
func New(base context.Context, runner PipelineRunner, store StatusStore, logger *slog.Logger, opts Options) (*Service, error) {
	if runner == nil {
		return nil, errors.New("pipeline runner required")
	}
	if store == nil {
		return nil, errors.New("status store required")
	}
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		base:     base,
		pipeline: runner,
		status:   store,
		history:  opts.History,
		events:   opts.Events,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Status returns the current status record.
func (s *Service) Status() status.Status {
	return s.status.Read()
}

// History lists recent deployment attempts, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.history == nil {
		return []history.Entry{}, nil
	}
	return s.history.Recent(ctx, limit)
}

// Deploy runs the pipeline once. It returns ErrBusy without side effects when
// another deployment holds the lock. The run ignores cancellation of ctx and
// stops only when the service's base context ends.
func (s *Service) Deploy(ctx context.Context) (Result, error) {
	if !s.mu.TryLock() {
		s.logger.Warn("deployment rejected; another deployment is running")
		return Result{Success: false, Stage: StageInProgress, Message: ErrBusy.Error()}, ErrBusy
	}
	defer s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	id := uuid.NewString()
	started := s.now()
	logger := s.logger.With("deployment_id", id)
	logger.Info("deployment started")

	outcome, err := s.pipeline.Run(runCtx, s.observer(id))
	finished := s.now()

	result := Result{
		DeploymentID: id,
		Committed:    outcome.Committed,
		Steps:        outcome.Steps,
		Duration:     finished.Sub(started),
	}
	if err != nil {
		result.Stage, result.Message = classify(err)
		st := s.status.Update(func(st *status.Status) {
			st.LastStatus = status.StateFailed
			st.LastMessage = result.Message
		})
		result.Count = st.DeployCount
		result.Timestamp = st.LastDeploy
		logger.Error("deployment failed", "stage", result.Stage, "error", result.Message, "duration_ms", result.Duration.Milliseconds())
	} else {
		st := s.status.Update(func(st *status.Status) {
			st.LastDeploy = status.NewTimestamp(finished)
			st.DeployCount++
			st.LastStatus = status.StateSuccess
			st.LastMessage = SuccessMessage
		})
		result.Success = true
		result.Count = st.DeployCount
		result.Timestamp = st.LastDeploy
		result.Message = fmt.Sprintf("🚀 Deploy complete! (total %d)", st.DeployCount)
		logger.Info("deployment completed", "count", st.DeployCount, "committed", outcome.Committed, "duration_ms", result.Duration.Milliseconds())
	}

	s.record(logger, result, started, finished)
	return result, err
}

func (s *Service) observer(id string) pipeline.Observer {
	if s.events == nil {
		return nil
	}
	return func(ev pipeline.Event) {
		payload, err := json.Marshal(Event{
			DeploymentID: id,
			Stage:        ev.Stage,
			State:        ev.State,
			Message:      ev.Message,
			Time:         ev.Time,
		})
		if err != nil {
			s.logger.Warn("encode pipeline event", "error", err)
			return
		}
		s.events.Broadcast(payload)
	}
}

func (s *Service) record(logger *slog.Logger, result Result, started, finished time.Time) {
	if s.history == nil {
		return
	}
	entry := history.Entry{
		ID:          result.DeploymentID,
		StartedAt:   started,
		FinishedAt:  finished,
		Status:      string(status.StateFailed),
		Stage:       string(result.Stage),
		Message:     result.Message,
		Committed:   result.Committed,
		DeployCount: result.Count,
	}
	if result.Success {
		entry.Status = string(status.StateSuccess)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, entry); err != nil {
		logger.Warn("record deployment history", "error", err)
	}
}

func classify(err error) (pipeline.Stage, string) {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, stageErr.Message
	}
	return pipeline.StageUnknown, fmt.Sprintf("deployment error: %v", err)
}
