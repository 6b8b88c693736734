package vector_test

import (
	"context"
	"testing"

	"github.com/samuelfneumann/offlinerl/environment"
	"github.com/samuelfneumann/offlinerl/environment/envconfig"
	"github.com/samuelfneumann/offlinerl/environment/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func cartpole(seed uint64) (environment.Environment, error) {
	e, _, err := envconfig.Make("CartPole-v0", seed)
	return e, err
}

func constructors() map[string]func(int, uint64) (vector.VectorEnv, error) {
	return map[string]func(int, uint64) (vector.VectorEnv, error){
		"Dummy": func(n int, seed uint64) (vector.VectorEnv, error) {
			return vector.NewDummy(cartpole, n, seed)
		},
		"Concurrent": func(n int, seed uint64) (vector.VectorEnv, error) {
			return vector.NewConcurrent(cartpole, n, seed)
		},
	}
}

func TestVectorEnvsAgree(t *testing.T) {
	ctx := context.Background()
	results := make(map[string][][]float64)

	for name, create := range constructors() {
		v, err := create(4, 10)
		require.NoError(t, err, name)
		assert.Equal(t, 4, v.Len())

		steps, err := v.Reset(ctx, nil)
		require.NoError(t, err, name)
		require.Len(t, steps, 4)

		actions := make([]*mat.VecDense, 2)
		for i := range actions {
			actions[i] = mat.NewVecDense(1, []float64{1})
		}
		steps, err = v.Step(ctx, actions, []int{3, 1})
		require.NoError(t, err, name)
		require.Len(t, steps, 2)

		for _, s := range steps {
			results[name] = append(results[name], s.Observation.RawVector().Data)
		}
		require.NoError(t, v.Close())

		_, err = v.Reset(ctx, nil)
		assert.ErrorIs(t, err, vector.ErrClosed)
	}

	assert.Equal(t, results["Dummy"], results["Concurrent"])
}

func TestVectorEnvSeeds(t *testing.T) {
	v, err := vector.NewDummy(cartpole, 2, 5)
	require.NoError(t, err)
	steps, err := v.Reset(context.Background(), nil)
	require.NoError(t, err)

	single, err := cartpole(6)
	require.NoError(t, err)
	want, err := single.Reset()
	require.NoError(t, err)

	assert.Equal(t, want.Observation.RawVector().Data,
		steps[1].Observation.RawVector().Data)
}

func TestVectorEnvErrors(t *testing.T) {
	for name, create := range constructors() {
		_, err := create(0, 0)
		assert.Error(t, err, name)

		v, err := create(1, 0)
		require.NoError(t, err)
		_, err = v.Step(context.Background(), nil, []int{0})
		assert.Error(t, err, name)
		_, err = v.Reset(context.Background(), []int{2})
		assert.Error(t, err, name)
	}
}
