package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainwatch/trainwatch-agent/pkg/model"
)

func TestRunDir_Layout(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 5, 0, 0, time.UTC)
	dir := RunDir("/data/outputs", now, 3)
	assert.Equal(t, filepath.Join("/data/outputs", "20260829-1405", "rank_3"), dir)
}

func TestFileBackend_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	samples := []model.ScalarSample{
		{Name: "train/loss", Value: 1.23, Step: 5, Timestamp: 1712345678901},
		{Name: "memory/max_active_gib", Value: 8.0, Step: 5, Timestamp: 1712345678902},
	}
	for _, s := range samples {
		require.NoError(t, b.WriteSample(s))
	}
	require.NoError(t, b.Close())

	f, err := os.Open(filepath.Join(dir, scalarsFileName))
	require.NoError(t, err)
	defer f.Close()

	var got []model.ScalarSample
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var s model.ScalarSample
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &s))
		got = append(got, s)
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, samples, got)
}

func TestFileBackend_CreatesNestedRunDir(t *testing.T) {
	root := t.TempDir()
	dir := RunDir(root, time.Now(), 0)

	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.WriteSample(model.ScalarSample{Name: "x", Value: 1, Step: 0}))
	require.NoError(t, b.Close())

	_, err = os.Stat(filepath.Join(dir, scalarsFileName))
	require.NoError(t, err)
}

func TestFileBackend_UnwritableDestination(t *testing.T) {
	root := t.TempDir()
	// A file where a directory is expected makes MkdirAll fail.
	blocker := filepath.Join(root, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewFileBackend(filepath.Join(blocker, "rank_0"))
	require.Error(t, err)
}

func TestFileBackend_FlushMakesDataVisible(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.WriteSample(model.ScalarSample{Name: "train/lr", Value: 0.001, Step: 1}))
	require.NoError(t, b.Flush())

	data, err := os.ReadFile(filepath.Join(dir, scalarsFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"train/lr"`)
}
