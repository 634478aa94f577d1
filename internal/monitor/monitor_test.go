package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainwatch/trainwatch-agent/internal/device"
	agenterrors "github.com/trainwatch/trainwatch-agent/internal/errors"
)

// fakeRuntime implements device.Runtime with settable counters.
type fakeRuntime struct {
	name     string
	index    int
	capacity int64
	stats    device.PeakStats

	statsErr error
	resetErr error

	resets   int
	releases int
}

func (f *fakeRuntime) Name() string         { return f.name }
func (f *fakeRuntime) Index() int           { return f.index }
func (f *fakeRuntime) CapacityBytes() int64 { return f.capacity }

func (f *fakeRuntime) PeakStats(context.Context) (device.PeakStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeRuntime) ResetPeaks(context.Context) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets++
	f.stats.ActiveBytesPeak = 0
	f.stats.ReservedBytesPeak = 0
	return nil
}

func (f *fakeRuntime) ReleaseCached(context.Context) error {
	f.releases++
	return nil
}

const gib = int64(1) << 30

func newTestRuntime() *fakeRuntime {
	return &fakeRuntime{
		name:     "NVIDIA A100-SXM4-40GB",
		index:    0,
		capacity: 16 * gib,
	}
}

func TestNew_ResetsAndReleasesAtConstruction(t *testing.T) {
	rt := newTestRuntime()
	rt.stats.ActiveBytesPeak = 4 * gib // stale activity before binding

	m, err := New(context.Background(), rt, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, rt.resets)
	assert.Equal(t, 1, rt.releases)

	// First snapshot reflects only post-construction activity.
	stats, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.MaxActiveGiB)
	assert.Zero(t, stats.NumAllocRetries)
	assert.Zero(t, stats.NumOOMs)
}

func TestNew_ZeroCapacityFails(t *testing.T) {
	rt := newTestRuntime()
	rt.capacity = 0

	_, err := New(context.Background(), rt, nil)
	require.Error(t, err)

	var ae *agenterrors.AgentError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, agenterrors.ErrDeviceUnavailable, ae.Code)
}

func TestNew_ResetFailureFails(t *testing.T) {
	rt := newTestRuntime()
	rt.resetErr = errors.New("runtime gone")

	_, err := New(context.Background(), rt, nil)
	require.Error(t, err)

	var ae *agenterrors.AgentError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, agenterrors.ErrDeviceUnavailable, ae.Code)
	assert.True(t, errors.Is(err, rt.resetErr))
}

func TestSnapshot_GiBAndPctConversion(t *testing.T) {
	rt := newTestRuntime()
	m, err := New(context.Background(), rt, nil)
	require.NoError(t, err)

	// 8 GiB active peak on a 16 GiB device.
	rt.stats = device.PeakStats{
		ActiveBytesPeak:   8589934592,
		ReservedBytesPeak: 10 * gib,
	}

	stats, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 8.0, stats.MaxActiveGiB, 1e-9)
	assert.InDelta(t, 50.0, stats.MaxActivePct, 1e-9)
	assert.InDelta(t, 10.0, stats.MaxReservedGiB, 1e-9)
	assert.InDelta(t, 62.5, stats.MaxReservedPct, 1e-9)
}

func TestSnapshot_ExactGiBDivisor(t *testing.T) {
	rt := newTestRuntime()
	m, err := New(context.Background(), rt, nil)
	require.NoError(t, err)

	// Binary GiB: 1073741824 bytes is exactly 1.0 GiB, not 1.07.
	rt.stats.ActiveBytesPeak = 1073741824

	stats, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, stats.MaxActiveGiB)
}

func TestSnapshot_FullCapacityIs100Pct(t *testing.T) {
	rt := newTestRuntime()
	m, err := New(context.Background(), rt, nil)
	require.NoError(t, err)

	rt.stats.ReservedBytesPeak = rt.capacity

	stats, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, stats.MaxReservedPct)
}

func TestResetPeaks_PreservesCumulativeCounters(t *testing.T) {
	rt := newTestRuntime()
	m, err := New(context.Background(), rt, nil)
	require.NoError(t, err)

	rt.stats = device.PeakStats{
		ActiveBytesPeak:   6 * gib,
		ReservedBytesPeak: 7 * gib,
		NumAllocRetries:   3,
		NumOOMs:           1,
	}

	before, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.ResetPeaks(context.Background()))

	after, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	// Peak window restarted.
	assert.LessOrEqual(t, after.MaxActiveGiB, before.MaxActiveGiB)
	assert.LessOrEqual(t, after.MaxReservedGiB, before.MaxReservedGiB)
	// Lifetime counters untouched by the reset.
	assert.Equal(t, before.NumAllocRetries, after.NumAllocRetries)
	assert.Equal(t, before.NumOOMs, after.NumOOMs)
}

func TestSnapshot_AllocDistressReported(t *testing.T) {
	rt := newTestRuntime()
	clk := agenterrors.RealClock{}
	ec := agenterrors.NewErrorCollector(clk)

	m, err := New(context.Background(), rt, ec)
	require.NoError(t, err)

	rt.stats.NumAllocRetries = 5
	rt.stats.NumOOMs = 2

	_, err = m.Snapshot(context.Background())
	require.NoError(t, err)

	codes := ec.GetActiveErrorCodes()
	assert.Contains(t, codes, string(agenterrors.ErrAllocPressure))
}

func TestSnapshot_CapacityAnomalyReportedNotClamped(t *testing.T) {
	rt := newTestRuntime()
	ec := agenterrors.NewErrorCollector(agenterrors.RealClock{})

	m, err := New(context.Background(), rt, ec)
	require.NoError(t, err)

	rt.stats.ActiveBytesPeak = 20 * gib // above the 16 GiB capacity

	stats, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Greater(t, stats.MaxActivePct, 100.0, "anomalous percentages must not be clamped")
	assert.Contains(t, ec.GetActiveErrorCodes(), string(agenterrors.ErrCapacityAnomaly))
}

func TestSnapshot_RuntimeErrorPropagates(t *testing.T) {
	rt := newTestRuntime()
	m, err := New(context.Background(), rt, nil)
	require.NoError(t, err)

	rt.statsErr = errors.New("scrape timeout")

	_, err = m.Snapshot(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, rt.statsErr))
}

func TestAccessors(t *testing.T) {
	rt := newTestRuntime()
	m, err := New(context.Background(), rt, nil)
	require.NoError(t, err)

	assert.Equal(t, "NVIDIA A100-SXM4-40GB", m.DeviceName())
	assert.Equal(t, 0, m.DeviceIndex())
	assert.InDelta(t, 16.0, m.CapacityGiB(), 1e-9)
}

func TestSnapshot_CompletesQuickly(t *testing.T) {
	rt := newTestRuntime()
	m, err := New(context.Background(), rt, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = m.Snapshot(ctx)
	require.NoError(t, err)
}
