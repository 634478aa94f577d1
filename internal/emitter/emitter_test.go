package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink records writes and close calls.
type recordingSink struct {
	writes []write
	closes int
}

type write struct {
	name  string
	value float64
	step  int64
}

func (s *recordingSink) Write(name string, value float64, step int64) {
	s.writes = append(s.writes, write{name, value, step})
}

func (s *recordingSink) Close() error {
	s.closes++
	return nil
}

func TestLog_QualifiesNamesWithNamespace(t *testing.T) {
	s := &recordingSink{}
	e := New(s, "train", true)

	e.Log(map[string]float64{"loss": 1.23}, 5)

	require.Len(t, s.writes, 1)
	assert.Equal(t, write{"train/loss", 1.23, 5}, s.writes[0])
}

func TestLog_NoNamespacePassesKeyThrough(t *testing.T) {
	s := &recordingSink{}
	e := New(s, "", true)

	e.Log(map[string]float64{"loss": 0.5}, 1)

	require.Len(t, s.writes, 1)
	assert.Equal(t, "loss", s.writes[0].name)
}

func TestLog_AllEntriesForwarded(t *testing.T) {
	s := &recordingSink{}
	e := New(s, "memory", true)

	e.Log(map[string]float64{
		"max_active_gib":   8.0,
		"max_active_pct":   50.0,
		"max_reserved_gib": 10.0,
	}, 7)

	require.Len(t, s.writes, 3)
	seen := make(map[string]float64)
	for _, w := range s.writes {
		assert.Equal(t, int64(7), w.step)
		seen[w.name] = w.value
	}
	assert.Equal(t, map[string]float64{
		"memory/max_active_gib":   8.0,
		"memory/max_active_pct":   50.0,
		"memory/max_reserved_gib": 10.0,
	}, seen)
}

func TestDisabledEmitter_LogIsNoop(t *testing.T) {
	s := &recordingSink{}
	e := New(s, "train", false)

	e.Log(map[string]float64{"loss": 1.23}, 5)

	assert.Empty(t, s.writes)
}

func TestDisabledEmitter_NilSink(t *testing.T) {
	e := New(nil, "train", true) // nil sink degrades to disabled

	// Must not panic.
	e.Log(map[string]float64{"loss": 1.23}, 5)
	require.NoError(t, e.Close())
}

func TestClose_FlushesSinkOnce(t *testing.T) {
	s := &recordingSink{}
	e := New(s, "", true)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.Equal(t, 1, s.closes)
}

func TestLog_AfterCloseIsSilentNoop(t *testing.T) {
	s := &recordingSink{}
	e := New(s, "", true)

	e.Log(map[string]float64{"loss": 1.0}, 0)
	require.NoError(t, e.Close())
	e.Log(map[string]float64{"loss": 0.9}, 1) // dropped, not an error

	require.Len(t, s.writes, 1)
	assert.Equal(t, int64(0), s.writes[0].step)
}

func TestClose_OnDisabledEmitterIsNoError(t *testing.T) {
	s := &recordingSink{}
	e := New(s, "", false)

	require.NoError(t, e.Close())
	assert.Zero(t, s.closes, "disabled emitter must not touch the sink")
}
