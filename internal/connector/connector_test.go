package connector

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePoller struct {
	interval  int
	polls     atomic.Int32
	pollErr   error
	alerts    []models.NormalizedAlert
	startErr  error
	stopped   atomic.Bool
}

func (f *fakePoller) Type() string                                  { return "fake" }
func (f *fakePoller) Start(context.Context) error                   { return f.startErr }
func (f *fakePoller) Stop() error                                   { f.stopped.Store(true); return nil }
func (f *fakePoller) TestConnection(context.Context) TestResult     { return TestResult{Success: true} }
func (f *fakePoller) PollInterval() int                             { return f.interval }
func (f *fakePoller) Poll(context.Context) ([]models.NormalizedAlert, error) {
	f.polls.Add(1)
	return f.alerts, f.pollErr
}

type fakeProcessor struct {
	mu     sync.Mutex
	alerts []models.NormalizedAlert
}

func (f *fakeProcessor) ProcessAlert(_ context.Context, a models.NormalizedAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	statuses []models.ConnectorState
	polls    int
}

func (f *fakeSink) UpdateConnectorStatus(_ context.Context, _ int64, s models.ConnectorState, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
	return nil
}

func (f *fakeSink) RecordConnectorPoll(_ context.Context, _ int64, _ time.Time, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return nil
}

func TestRegistryBuildAndTypes(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", func(json.RawMessage) (Connector, error) {
		return &fakePoller{interval: 60}, nil
	})

	c, err := reg.Build("fake", nil)
	require.NoError(t, err)
	assert.Equal(t, "fake", c.Type())
	assert.Equal(t, []string{"fake"}, reg.Types())

	_, err = reg.Build("missing", nil)
	assert.Error(t, err)
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	f := func(json.RawMessage) (Connector, error) { return &fakePoller{}, nil }
	reg.Register("fake", f)
	assert.Panics(t, func() { reg.Register("fake", f) })
}

func TestRunnerFeedsProcessor(t *testing.T) {
	p := &fakePoller{
		interval: 1,
		alerts: []models.NormalizedAlert{{
			SourceSystem: "fake",
			Fingerprint:  models.Fingerprint("fake", "a"),
		}},
	}
	proc := &fakeProcessor{}
	sink := &fakeSink{}
	r := NewRunner(1, p, proc, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.polls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.NotEmpty(t, proc.alerts)
	assert.True(t, p.stopped.Load())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Contains(t, sink.statuses, models.ConnectorConnecting)
	assert.Equal(t, models.ConnectorDisconnected, sink.statuses[len(sink.statuses)-1])
	assert.GreaterOrEqual(t, sink.polls, 1)
}

func TestRunnerRecordsErrorAndContinues(t *testing.T) {
	p := &fakePoller{interval: 1, pollErr: assert.AnError}
	sink := &fakeSink{}
	r := NewRunner(1, p, &fakeProcessor{}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// A second poll after the failed first one shows the loop continued.
	require.Eventually(t, func() bool { return p.polls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Contains(t, sink.statuses, models.ConnectorError)
}

func TestRunnerZeroIntervalDisablesPolling(t *testing.T) {
	p := &fakePoller{interval: 0}
	r := NewRunner(1, p, &fakeProcessor{}, nil, nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner should return immediately with polling disabled")
	}
	assert.Equal(t, int32(0), p.polls.Load())
}

func TestRunnerCancellationPreemptsSleep(t *testing.T) {
	p := &fakePoller{interval: 3600}
	r := NewRunner(1, p, &fakeProcessor{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.polls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not preempt the poll sleep")
	}
}
