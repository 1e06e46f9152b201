package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStrategyUsesSessionIDVerbatim(t *testing.T) {
	r := New(StrategySession, 0, nil)
	w, err := r.Assign(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", w)
}

func TestSharedStrategyAlwaysReturnsSharedConstant(t *testing.T) {
	r := New(StrategyShared, 0, nil)
	w1, err := r.Assign(context.Background(), "s1")
	require.NoError(t, err)
	w2, err := r.Assign(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "shared", w1)
	assert.Equal(t, "shared", w2)
}

func TestPoolStrategySameSessionAlwaysRoutesToSamePoolMember(t *testing.T) {
	r := New(StrategyPool, 5, nil)
	first, err := r.Assign(context.Background(), "abc")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Assign(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPoolStrategyWithoutSessionIDIsUniformRandomWithinPool(t *testing.T) {
	r := New(StrategyPool, 5, nil)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		w, err := r.Assign(context.Background(), "")
		require.NoError(t, err)
		seen[w] = true
	}
	assert.Greater(t, len(seen), 1, "expected more than one pool member to be chosen across 200 draws")
	for w := range seen {
		assert.Regexp(t, `^pool-[0-4]$`, w)
	}
}

func TestPoolHashMatchesSpecifiedMultiplyShiftFunction(t *testing.T) {
	var want uint32
	for _, c := range "abc" {
		want = (want<<5 - want + uint32(c)) & 0xFFFFFFFF
	}
	assert.Equal(t, want, PoolHash("abc"))
}

func TestAutoscaleStrategyWithoutCoordinatorErrors(t *testing.T) {
	r := New(StrategyAutoscale, 0, nil)
	_, err := r.Assign(context.Background(), "s1")
	assert.Error(t, err)
}
