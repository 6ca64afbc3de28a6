package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/pagesdeploy/internal/history"
	"github.com/splax/pagesdeploy/internal/pipeline"
	"github.com/splax/pagesdeploy/internal/status"
)

type pipelineStub struct {
	run func(ctx context.Context, observe pipeline.Observer) (pipeline.Outcome, error)
}

func (p pipelineStub) Run(ctx context.Context, observe pipeline.Observer) (pipeline.Outcome, error) {
	return p.run(ctx, observe)
}

type broadcasterStub struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *broadcasterStub) Broadcast(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, base context.Context, runner PipelineRunner) (*Service, *status.Store, *history.Memory, *broadcasterStub) {
	t.Helper()
	store := status.New(filepath.Join(t.TempDir(), "deploy_status.json"), discardLogger())
	mem := history.NewMemory(10)
	events := &broadcasterStub{}
	svc, err := New(base, runner, store, discardLogger(), Options{History: mem, Events: events})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store, mem, events
}

func TestDeploySuccessIncrementsCount(t *testing.T) {
	runner := pipelineStub{run: func(_ context.Context, observe pipeline.Observer) (pipeline.Outcome, error) {
		observe(pipeline.Event{Stage: pipeline.StageBuild, State: pipeline.StateStarted})
		return pipeline.Outcome{Committed: true}, nil
	}}
	svc, store, mem, events := newTestService(t, context.Background(), runner)

	for want := 1; want <= 2; want++ {
		result, err := svc.Deploy(context.Background())
		if err != nil {
			t.Fatalf("deploy: %v", err)
		}
		if !result.Success || result.Count != want {
			t.Fatalf("expected success with count %d, got %+v", want, result)
		}
		if !strings.Contains(result.Message, "total") || result.Timestamp == nil {
			t.Fatalf("unexpected result %+v", result)
		}
	}

	st := store.Read()
	if st.DeployCount != 2 || st.LastStatus != status.StateSuccess || st.LastMessage != SuccessMessage || st.LastDeploy == nil {
		t.Fatalf("unexpected status %+v", st)
	}

	entries, _ := mem.Recent(context.Background(), 10)
	if len(entries) != 2 || entries[0].Status != "success" || entries[0].DeployCount != 2 {
		t.Fatalf("unexpected history %+v", entries)
	}
	if len(events.payloads) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events.payloads))
	}
	var ev Event
	if err := json.Unmarshal(events.payloads[0], &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.DeploymentID == "" || ev.Stage != pipeline.StageBuild || ev.State != pipeline.StateStarted {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDeployWithoutChangesStillCounts(t *testing.T) {
	runner := pipelineStub{run: func(context.Context, pipeline.Observer) (pipeline.Outcome, error) {
		return pipeline.Outcome{Committed: false}, nil
	}}
	svc, store, _, _ := newTestService(t, context.Background(), runner)

	result, err := svc.Deploy(context.Background())
	if err != nil || !result.Success || result.Committed {
		t.Fatalf("expected uncommitted success, got %+v %v", result, err)
	}
	if store.Read().DeployCount != 1 {
		t.Fatalf("expected count to increment on no-op commit")
	}
}

func TestDeployFailureRecordsStatus(t *testing.T) {
	runner := pipelineStub{run: func(context.Context, pipeline.Observer) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, &pipeline.StageError{
			Stage:   pipeline.StageBuild,
			Step:    pipeline.StageBuild,
			Message: "jekyll build failed: template error",
		}
	}}
	svc, store, mem, _ := newTestService(t, context.Background(), runner)

	result, err := svc.Deploy(context.Background())
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected stage error, got %v", err)
	}
	if result.Success || result.Stage != pipeline.StageBuild || result.Message != "jekyll build failed: template error" {
		t.Fatalf("unexpected result %+v", result)
	}

	st := store.Read()
	if st.LastStatus != status.StateFailed || st.LastMessage != result.Message || st.DeployCount != 0 || st.LastDeploy != nil {
		t.Fatalf("unexpected status %+v", st)
	}
	entries, _ := mem.Recent(context.Background(), 1)
	if len(entries) != 1 || entries[0].Status != "failed" || entries[0].Stage != "jekyll_build" {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestDeployUnexpectedErrorIsUnknown(t *testing.T) {
	runner := pipelineStub{run: func(context.Context, pipeline.Observer) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, errors.New("disk full")
	}}
	svc, _, _, _ := newTestService(t, context.Background(), runner)

	result, _ := svc.Deploy(context.Background())
	if result.Stage != pipeline.StageUnknown || result.Message != "deployment error: disk full" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestDeployRejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	runner := pipelineStub{run: func(context.Context, pipeline.Observer) (pipeline.Outcome, error) {
		close(entered)
		<-release
		return pipeline.Outcome{Committed: true}, nil
	}}
	svc, store, _, _ := newTestService(t, context.Background(), runner)

	done := make(chan Result)
	go func() {
		result, _ := svc.Deploy(context.Background())
		done <- result
	}()
	<-entered

	result, err := svc.Deploy(context.Background())
	if !errors.Is(err, ErrBusy) || result.Stage != StageInProgress {
		t.Fatalf("expected busy rejection, got %+v %v", result, err)
	}
	if st := store.Read(); st.LastStatus != status.StateNone {
		t.Fatalf("busy rejection must not touch status, got %+v", st)
	}

	close(release)
	if first := <-done; !first.Success || first.Count != 1 {
		t.Fatalf("unexpected first result %+v", first)
	}
}

func TestDeployDetachedFromCaller(t *testing.T) {
	runner := pipelineStub{run: func(ctx context.Context, _ pipeline.Observer) (pipeline.Outcome, error) {
		if err := ctx.Err(); err != nil {
			return pipeline.Outcome{}, err
		}
		return pipeline.Outcome{}, nil
	}}
	svc, _, _, _ := newTestService(t, context.Background(), runner)

	caller, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := svc.Deploy(caller)
	if err != nil || !result.Success {
		t.Fatalf("expected caller cancellation to be ignored, got %+v %v", result, err)
	}
}

func TestDeployCancelledByBase(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	runner := pipelineStub{run: func(ctx context.Context, _ pipeline.Observer) (pipeline.Outcome, error) {
		cancel()
		select {
		case <-ctx.Done():
			return pipeline.Outcome{}, ctx.Err()
		case <-time.After(time.Second):
			return pipeline.Outcome{}, nil
		}
	}}
	svc, _, _, _ := newTestService(t, base, runner)

	result, err := svc.Deploy(context.Background())
	if !errors.Is(err, context.Canceled) || result.Stage != pipeline.StageUnknown {
		t.Fatalf("expected cancellation, got %+v %v", result, err)
	}
}

func TestNewValidates(t *testing.T) {
	store := status.New(filepath.Join(t.TempDir(), "s.json"), discardLogger())
	if _, err := New(context.Background(), nil, store, nil, Options{}); err == nil {
		t.Fatal("expected error for missing runner")
	}
	runner := pipelineStub{}
	if _, err := New(context.Background(), runner, nil, nil, Options{}); err == nil {
		t.Fatal("expected error for missing store")
	}
	svc, err := New(context.Background(), runner, store, nil, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	entries, err := svc.History(context.Background(), 5)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty history without recorder, got %v %v", entries, err)
	}
}
