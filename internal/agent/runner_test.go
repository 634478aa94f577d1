package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainwatch/trainwatch-agent/internal/config"
	"github.com/trainwatch/trainwatch-agent/internal/device"
	"github.com/trainwatch/trainwatch-agent/internal/emitter"
	"github.com/trainwatch/trainwatch-agent/internal/monitor"
	"github.com/trainwatch/trainwatch-agent/internal/observability"
)

const (
	testWaitTimeout  = 5 * time.Second
	testPollInterval = 20 * time.Millisecond
)

// fakeRuntime implements device.Runtime for loop tests.
type fakeRuntime struct {
	mu     sync.Mutex
	stats  device.PeakStats
	resets int
}

func (f *fakeRuntime) Name() string         { return "Test Accelerator" }
func (f *fakeRuntime) Index() int           { return 0 }
func (f *fakeRuntime) CapacityBytes() int64 { return 16 << 30 }

func (f *fakeRuntime) PeakStats(context.Context) (device.PeakStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeRuntime) ResetPeaks(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.stats.ActiveBytesPeak = 0
	f.stats.ReservedBytesPeak = 0
	return nil
}

func (f *fakeRuntime) ReleaseCached(context.Context) error { return nil }

func (f *fakeRuntime) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// recordingSink records writes through the emitter.
type recordingSink struct {
	mu     sync.Mutex
	writes map[string][]int64 // name -> steps seen
}

func newRecordingSink() *recordingSink {
	return &recordingSink{writes: make(map[string][]int64)}
}

func (s *recordingSink) Write(name string, _ float64, step int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[name] = append(s.writes[name], step)
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) steps(name string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.writes[name]))
	copy(out, s.writes[name])
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		SampleInterval:      50 * time.Millisecond,
		ResetPeaksPerWindow: true,
		SinkKind:            config.SinkFile,
	}
}

func newTestRunner(t *testing.T, rt *fakeRuntime, sink *recordingSink, cfg *config.Config) *Runner {
	t.Helper()
	mon, err := monitor.New(context.Background(), rt, nil)
	require.NoError(t, err)
	em := emitter.New(sink, "", true)
	return NewRunner(cfg, mon, em, nil, observability.NewMetrics())
}

func TestRunner_SamplesImmediatelyAndPeriodically(t *testing.T) {
	rt := &fakeRuntime{}
	sink := newRecordingSink()
	r := newTestRunner(t, rt, sink, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sink.steps("memory/max_active_gib")) >= 2
	}, testWaitTimeout, testPollInterval)

	steps := sink.steps("memory/max_active_gib")
	assert.Equal(t, int64(0), steps[0], "first sample must use step 0")
	assert.Equal(t, int64(1), steps[1], "steps must increase monotonically")
}

func TestRunner_EmitsAllMemoryFields(t *testing.T) {
	rt := &fakeRuntime{}
	sink := newRecordingSink()
	r := newTestRunner(t, rt, sink, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx) }()

	want := []string{
		"memory/max_active_gib",
		"memory/max_active_pct",
		"memory/max_reserved_gib",
		"memory/max_reserved_pct",
		"memory/num_alloc_retries",
		"memory/num_ooms",
	}
	require.Eventually(t, func() bool {
		for _, name := range want {
			if len(sink.steps(name)) == 0 {
				return false
			}
		}
		return true
	}, testWaitTimeout, testPollInterval)
}

func TestRunner_ResetsPeaksPerWindow(t *testing.T) {
	rt := &fakeRuntime{}
	sink := newRecordingSink()
	r := newTestRunner(t, rt, sink, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx) }()

	// One reset at monitor construction plus one per sample window.
	require.Eventually(t, func() bool {
		return rt.resetCount() >= 3
	}, testWaitTimeout, testPollInterval)
}

func TestRunner_NoResetWhenDisabled(t *testing.T) {
	rt := &fakeRuntime{}
	sink := newRecordingSink()
	cfg := testConfig()
	cfg.ResetPeaksPerWindow = false
	r := newTestRunner(t, rt, sink, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sink.steps("memory/max_active_gib")) >= 2
	}, testWaitTimeout, testPollInterval)

	// Only the construction-time reset.
	assert.Equal(t, 1, rt.resetCount())
}

func TestRunner_ReadyAfterFirstSample(t *testing.T) {
	rt := &fakeRuntime{}
	sink := newRecordingSink()
	r := newTestRunner(t, rt, sink, testConfig())

	assert.False(t, r.IsReady())
	assert.Nil(t, r.LatestStats())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, r.IsReady, testWaitTimeout, testPollInterval)
	assert.NotNil(t, r.LatestStats())
}

func TestRunner_StopsOnContextCancel(t *testing.T) {
	rt := &fakeRuntime{}
	sink := newRecordingSink()
	r := newTestRunner(t, rt, sink, testConfig())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, r.IsReady, testWaitTimeout, testPollInterval)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(testWaitTimeout):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestHostSampler_SamplesCurrentProcess(t *testing.T) {
	h, err := NewHostSampler()
	require.NoError(t, err)

	fields := h.Sample()
	require.NotEmpty(t, fields)
	assert.Greater(t, fields["host/process_rss_gib"], 0.0)
}
