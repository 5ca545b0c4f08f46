package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/importance-shift/internal/config"
	"github.com/danielpatrickdp/importance-shift/internal/envdiff"
	"github.com/danielpatrickdp/importance-shift/internal/oracle"
)

func TestTargetDescriptorsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desc.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"env_name": "ORAN_embb_1", "distance": 0.2, "differences": {}}]`), 0o644))

	descs, targets, err := targetDescriptors([]string{"ORAN_embb_9"}, "", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ORAN_embb_9"}, targets)
	assert.Equal(t, "ORAN_embb_1", descs["ORAN_embb_9"][0].EnvName)

	_, _, err = targetDescriptors(nil, "", path)
	assert.Error(t, err)
	_, _, err = targetDescriptors(nil, "", "")
	assert.Error(t, err)
}

func TestBuildOracleFileBackendWithRateLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ref_Throughput_Mbps.txt"), []byte("answer"), 0o644))

	cfg = config.Default()
	cfg.Oracle.Backend = "file"
	cfg.Oracle.Dir = dir
	o, closeFn, err := buildOracle()
	require.NoError(t, err)
	defer closeFn()

	prompt := oracle.BuildScalingPrompt(oracle.PromptInput{
		Metric:     "Throughput_Mbps",
		Descriptor: envdiff.Descriptor{EnvName: "ref"},
	})
	out, err := o.Complete(context.Background(), oracle.SystemMessage, prompt)
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestBuildOracleOpenAINeedsKey(t *testing.T) {
	cfg = config.Default()
	_, _, err := buildOracle()
	assert.Error(t, err)
}

func TestRunnerConfigRoutesBySlice(t *testing.T) {
	cfg = config.Default()
	rc := runnerConfig()
	assert.Equal(t, []string{"Avg_Delay_ms"}, rc.Route(envdiff.SliceURLLC))
	assert.Equal(t, cfg.Oracle.Timeout, rc.OracleTimeout)
}
