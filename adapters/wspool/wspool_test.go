package wspool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/respool/pool"
)

func TestEvictionPredicateRetiresAfterMaxIdle(t *testing.T) {
	pred := EvictionPredicate(time.Minute)
	require.False(t, pred(nil, pool.Metadata{IdleTimeBeforeThis: 10 * time.Second}))
	require.True(t, pred(nil, pool.Metadata{IdleTimeBeforeThis: 2 * time.Minute}))
}

func TestEvictionPredicateDisabledWhenZero(t *testing.T) {
	pred := EvictionPredicate(0)
	require.False(t, pred(nil, pool.Metadata{IdleTimeBeforeThis: 24 * time.Hour}))
}
