package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/agent/nonlinear/continuous/snr"
	"github.com/samuelfneumann/distillrl/demonstrations"
)

func TestAliases(t *testing.T) {
	cmd := newTrainCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--mt=mlp_8", "--tbs=4",
		"--msl=640", "--e=3"}))

	v, err := newViper(cmd)
	require.NoError(t, err)
	assert.Equal(t, "mlp_8", v.GetString("model_type"))
	assert.Equal(t, 4, v.GetInt("train_batch_size"))
	assert.Equal(t, 640, v.GetInt("max_sample_length"))
	assert.Equal(t, 3, v.GetInt("num_epochs"))
}

func TestEnvironment(t *testing.T) {
	t.Setenv("DISTILL_SHUFFLE_BUFFER_SIZE", "17")
	cmd := newTrainCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	v, err := newViper(cmd)
	require.NoError(t, err)
	assert.Equal(t, 17, v.GetInt("shuffle_buffer_size"))
}

func TestCollect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demos.gob")
	root := newRootCmd()
	root.SetArgs([]string{"collect", "--output", path, "--episodes", "2",
		"--episode_steps", "5", "--seed", "3"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	transitions, err := demonstrations.Load(path)
	require.NoError(t, err)
	require.Len(t, transitions, 10)
	for _, tr := range transitions {
		a := tr.Action.AtVec(0)
		assert.GreaterOrEqual(t, a, -1.0)
		assert.LessOrEqual(t, a, 1.0)
	}
}

func TestSNRConfigFlags(t *testing.T) {
	cmd := newSNRCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--snr_alpha=0.5",
		"--entropy_coefficient=0.2", "--policy_layers=32,32"}))

	v, err := newViper(cmd)
	require.NoError(t, err)
	c, err := snrConfig(v, cmd)
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.SNRAlpha)
	require.NotNil(t, c.EntropyCoefficient)
	assert.Equal(t, 0.2, *c.EntropyCoefficient)
	assert.Equal(t, []int{32, 32}, c.PolicyLayers)
	assert.Equal(t, []int{256, 256}, c.CriticLayers)
}

func TestSNRConfigJSON(t *testing.T) {
	d := snr.DefaultConfig()

	c, err := decodeSNRConfig([]byte(`{"SNRAlpha": 0.7}`), d)
	require.NoError(t, err)
	assert.Equal(t, 0.7, c.SNRAlpha)
	assert.Equal(t, d.BatchSize, c.BatchSize)

	typed := d
	typed.NumBCIters = 12
	data, err := json.Marshal(agent.NewTypedConfig(typed))
	require.NoError(t, err)
	c, err = decodeSNRConfig(data, snr.Config{})
	require.NoError(t, err)
	assert.Equal(t, 12, c.NumBCIters)

	file := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(file, data, 0o644))
	cmd := newSNRCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config_json=" + file,
		"--tau=0.01"}))
	v, err := newViper(cmd)
	require.NoError(t, err)
	c, err = snrConfig(v, cmd)
	require.NoError(t, err)
	assert.Equal(t, 12, c.NumBCIters)
	assert.Equal(t, 0.01, c.Tau)
}
