package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPendingQueueFIFOOrder(t *testing.T) {
	q := newPendingQueue[int](FIFO)
	b1 := newBorrower[int]("", 1)
	b2 := newBorrower[int]("", 2)
	q.push(b1)
	q.push(b2)

	require.Same(t, b1, q.poll())
	require.Same(t, b2, q.poll())
	require.Nil(t, q.poll())
}

func TestPendingQueueLIFOOrder(t *testing.T) {
	q := newPendingQueue[int](LIFO)
	b1 := newBorrower[int]("", 1)
	b2 := newBorrower[int]("", 2)
	q.push(b1)
	q.push(b2)

	require.Same(t, b2, q.poll())
	require.Same(t, b1, q.poll())
}

func TestAffinityQueueFastPathPrefersKey(t *testing.T) {
	q := newAffinityQueue[int]()
	other := newBorrower[int]("thread-B", 1)
	mine := newBorrower[int]("thread-A", 2)
	q.push(other)
	q.push(mine)

	require.Same(t, mine, q.pollAffine("thread-A"))
	require.Nil(t, q.pollAffine("thread-A"))
	require.Same(t, other, q.pollAny())
}

func TestAffinityQueueSlowPathFallsBackToArrivalOrder(t *testing.T) {
	q := newAffinityQueue[int]()
	first := newBorrower[int]("thread-A", 1)
	second := newBorrower[int]("thread-B", 2)
	q.push(first)
	q.push(second)

	require.Same(t, first, q.pollAny())
	require.Same(t, second, q.pollAny())
}
