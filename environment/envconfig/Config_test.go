package envconfig_test

import (
	"testing"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/environment/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	e, spec, err := envconfig.Make("CartPole-v0", 0)
	require.NoError(t, err)
	require.NotNil(t, spec.RewardThreshold)
	assert.Equal(t, 195.0, *spec.RewardThreshold)
	assert.Equal(t, 200, spec.MaxEpisodeSteps)
	assert.Equal(t, 2, environment.NewSpaceInfo(e).NumActions)

	e, spec, err = envconfig.Make("Pendulum-v1", 0)
	require.NoError(t, err)
	assert.Nil(t, spec.RewardThreshold)
	info := environment.NewSpaceInfo(e)
	assert.Equal(t, 3, info.ObsDim)
	assert.False(t, info.Discrete())
	assert.Equal(t, []float64{2}, info.MaxAction)
}

func TestMakeUnknown(t *testing.T) {
	_, _, err := envconfig.Make("LunarLander-v2", 0)
	assert.Error(t, err)
}

func TestSeeding(t *testing.T) {
	a, _, err := envconfig.Make("CartPole-v1", 7)
	require.NoError(t, err)
	b, _, err := envconfig.Make("CartPole-v1", 7)
	require.NoError(t, err)

	sa, err := a.Reset()
	require.NoError(t, err)
	sb, err := b.Reset()
	require.NoError(t, err)
	assert.Equal(t, sa.Observation.RawVector().Data,
		sb.Observation.RawVector().Data)
}
