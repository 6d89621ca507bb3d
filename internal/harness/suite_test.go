package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDir(t *testing.T) {
	result, err := RunDir(context.Background(), filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	assert.Positive(t, result.TotalScenarios)
	assert.Equal(t, result.TotalScenarios, result.Passed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Failures)
}

func TestRunDir_CountsFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_ok.yaml"), []byte(minimalScenario), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_broken.yaml"), []byte("name: [\n"), 0644))

	wrong := minimalScenario[:len(minimalScenario)-len("  Token: Deployed\n")] + "  Token: Failed\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c_wrong.yaml"), []byte(wrong), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a scenario"), 0644))

	result, err := RunDir(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalScenarios)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
	assert.Contains(t, result.Failures[1].Error, "expect.Token: got Deployed, want Failed")
}

func TestRunDir_Empty(t *testing.T) {
	result, err := RunDir(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, result.TotalScenarios)
}
