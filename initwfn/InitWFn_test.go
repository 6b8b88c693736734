package initwfn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestUnmarshalYAML(t *testing.T) {
	var i InitWFn
	err := yaml.Unmarshal([]byte("type: HeU\nconfig:\n  gain: 2.0\n"), &i)
	require.NoError(t, err)
	assert.Equal(t, HeU, i.Type())
	assert.Equal(t, GainConfig{Kind: HeU, Gain: 2.0}, i.Config)
	assert.NotNil(t, i.InitWFn())

	err = yaml.Unmarshal([]byte("type: GlorotN\n"), &i)
	require.NoError(t, err)
	assert.Equal(t, GainConfig{Kind: GlorotN, Gain: 1.0}, i.Config)

	err = yaml.Unmarshal([]byte("type: Zeroes\n"), &i)
	require.NoError(t, err)
	assert.Equal(t, Zeroes, i.Type())

	err = yaml.Unmarshal([]byte("type: Orthogonal\n"), &i)
	assert.Error(t, err)
}

func TestRoundTripYAML(t *testing.T) {
	init, err := FromType(GlorotU, 1.5)
	require.NoError(t, err)

	out, err := yaml.Marshal(init)
	require.NoError(t, err)

	var decoded InitWFn
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, init.Config, decoded.Config)
	assert.Equal(t, GlorotU, decoded.Type())
}

func TestFromType(t *testing.T) {
	for _, typ := range []Type{GlorotU, GlorotN, HeU, HeN} {
		init, err := FromType(typ, 2.0)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, init.Type())
		assert.Equal(t, GainConfig{Kind: typ, Gain: 2.0}, init.Config)
		assert.NotNil(t, init.InitWFn())
	}

	init, err := FromType(Zeroes, 2.0)
	require.NoError(t, err)
	assert.Equal(t, ZeroesConfig{}, init.Config)

	_, err = FromType("Orthogonal", 1.0)
	assert.Error(t, err)
}
