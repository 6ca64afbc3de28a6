package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/pagesdeploy/internal/executil"
	"github.com/splax/pagesdeploy/internal/git"
	"github.com/splax/pagesdeploy/internal/workspace"
)

// Config fixes the commands and limits of every run.
type Config struct {
	BuildCommand []string
	Excludes     []string
	Remote       string
	Branch       string
	BuildTimeout time.Duration
	SyncTimeout  time.Duration
	GitTimeout   time.Duration
	PushTimeout  time.Duration
}

// Outcome summarises a successful run.
type Outcome struct {
	Committed bool
	Steps     []StepResult
	Duration  time.Duration
}

// Pipeline builds the site, mirrors it into the publish repository and pushes
// it. Steps run strictly in order and the first failure ends the run.
type Pipeline struct {
	layout  *workspace.Layout
	builder executil.Runner
	runner  executil.Runner
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New validates the configuration. builder runs the build step; runner runs
// the sync and git steps.
func New(layout *workspace.Layout, builder, runner executil.Runner, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if layout == nil {
		return nil, errors.New("workspace layout required")
	}
	if builder == nil || runner == nil {
		return nil, errors.New("command runners required")
	}
	if len(cfg.BuildCommand) == 0 || strings.TrimSpace(cfg.BuildCommand[0]) == "" {
		return nil, errors.New("build command required")
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		layout:  layout,
		builder: builder,
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run executes one deployment. The returned error is always a *StageError.
func (p *Pipeline) Run(ctx context.Context, observe Observer) (Outcome, error) {
	start := p.now()
	var outcome Outcome
	finish := func(err error) (Outcome, error) {
		outcome.Duration = p.now().Sub(start)
		return outcome, err
	}

	p.emit(observe, StageRepoCheck, StateStarted, p.layout.Publish())
	if err := p.layout.CheckPublish(); err != nil {
		return finish(p.fail(observe, &StageError{
			Stage:   StageRepoCheck,
			Step:    StageRepoCheck,
			Message: err.Error(),
			Err:     err,
		}))
	}
	p.emit(observe, StageRepoCheck, StateCompleted, "")

	build := executil.Command{
		Name:    p.cfg.BuildCommand[0],
		Args:    p.cfg.BuildCommand[1:],
		Dir:     p.layout.Source(),
		Timeout: p.cfg.BuildTimeout,
	}
	if _, err := p.exec(ctx, observe, &outcome, StageBuild, "jekyll build", p.builder, build); err != nil {
		return finish(err)
	}

	sync := p.layout.MirrorCommand(p.cfg.Excludes, p.cfg.SyncTimeout)
	if _, err := p.exec(ctx, observe, &outcome, StageSync, "rsync", p.runner, sync); err != nil {
		return finish(err)
	}

	publish := p.layout.Publish()
	if _, err := p.exec(ctx, observe, &outcome, StageAdd, "git add", p.runner, git.AddAll(publish, p.cfg.GitTimeout)); err != nil {
		return finish(err)
	}

	commit := git.Commit(publish, git.CommitMessage(p.now()), p.cfg.GitTimeout)
	committed, err := p.commit(ctx, observe, &outcome, commit)
	if err != nil {
		return finish(err)
	}
	outcome.Committed = committed

	push := git.Push(publish, p.cfg.Remote, p.cfg.Branch, p.cfg.PushTimeout)
	if _, err := p.exec(ctx, observe, &outcome, StagePush, "git push", p.runner, push); err != nil {
		if committed {
			p.logger.Warn("local commit not published; publish repository is ahead of its remote until the next successful push", "dir", publish)
		}
		return finish(err)
	}

	return finish(nil)
}

// commit treats "nothing to commit" as a skipped step instead of a failure.
func (p *Pipeline) commit(ctx context.Context, observe Observer, outcome *Outcome, cmd executil.Command) (bool, error) {
	p.emit(observe, StageCommit, StateStarted, cmd.String())
	p.logger.Info("pipeline step started", "stage", StageCommit, "command", cmd.String())
	result, err := p.runner.Run(ctx, cmd)
	p.record(outcome, StageCommit, result)
	if err != nil {
		return false, p.fail(observe, p.runError(StageCommit, cmd, err))
	}
	if result.Success() {
		p.logger.Info("pipeline step completed", "stage", StageCommit, "duration_ms", result.Duration.Milliseconds())
		p.emit(observe, StageCommit, StateCompleted, "")
		return true, nil
	}
	if git.NothingToCommit(result) {
		p.logger.Info("no changes to commit; skipping commit", "stage", StageCommit)
		p.emit(observe, StageCommit, StateSkipped, "nothing to commit")
		return false, nil
	}
	return false, p.fail(observe, &StageError{
		Stage:   StageCommit,
		Step:    StageCommit,
		Message: fmt.Sprintf("git commit failed: %s", diagnostic(result)),
	})
}

func (p *Pipeline) exec(ctx context.Context, observe Observer, outcome *Outcome, stage Stage, label string, runner executil.Runner, cmd executil.Command) (executil.Result, error) {
	p.emit(observe, stage, StateStarted, cmd.String())
	p.logger.Info("pipeline step started", "stage", stage, "command", cmd.String())
	result, err := runner.Run(ctx, cmd)
	p.record(outcome, stage, result)
	if err != nil {
		return result, p.fail(observe, p.runError(stage, cmd, err))
	}
	if !result.Success() {
		return result, p.fail(observe, &StageError{
			Stage:   stage,
			Step:    stage,
			Message: fmt.Sprintf("%s failed: %s", label, diagnostic(result)),
		})
	}
	p.logger.Info("pipeline step completed", "stage", stage, "duration_ms", result.Duration.Milliseconds())
	p.emit(observe, stage, StateCompleted, "")
	return result, nil
}

func (p *Pipeline) runError(step Stage, cmd executil.Command, err error) *StageError {
	if errors.Is(err, executil.ErrTimeout) {
		return &StageError{
			Stage:   StageTimeout,
			Step:    step,
			Message: fmt.Sprintf("deployment timed out during %s (limit %s)", step, cmd.Timeout),
			Err:     err,
		}
	}
	return &StageError{
		Stage:   StageUnknown,
		Step:    step,
		Message: fmt.Sprintf("deployment error: %v", err),
		Err:     err,
	}
}

func (p *Pipeline) fail(observe Observer, err *StageError) error {
	p.logger.Error("pipeline step failed", "stage", err.Stage, "step", err.Step, "error", err.Message)
	p.emit(observe, err.Step, StateFailed, err.Message)
	return err
}

func (p *Pipeline) record(outcome *Outcome, stage Stage, result executil.Result) {
	outcome.Steps = append(outcome.Steps, StepResult{
		Stage:    stage,
		ExitCode: result.ExitCode,
		Output:   executil.Truncate(result.Output()),
		Duration: result.Duration,
	})
}

func (p *Pipeline) emit(observe Observer, stage Stage, state State, message string) {
	if observe == nil {
		return
	}
	observe(Event{Stage: stage, State: state, Message: message, Time: p.now()})
}

// diagnostic prefers stderr, falling back to stdout for tools that report
// errors there.
func diagnostic(result executil.Result) string {
	if text := strings.TrimSpace(result.Stderr); text != "" {
		return executil.Truncate(text)
	}
	return executil.Truncate(result.Stdout)
}
