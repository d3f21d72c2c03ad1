package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andre-silva/leech/internal/bitfield"
)

func TestQueueTakeRespectsBitfield(t *testing.T) {
	q := NewQueue(4)
	bf := bitfield.New(4)
	bf.Set(2)

	index, ok := q.take(bf)
	require.True(t, ok)
	assert.Equal(t, 2, index)

	_, ok = q.take(bf)
	assert.False(t, ok, "piece 2 was already taken and no other bit is set")
}

func TestQueueTakeReturnsLowestIndexFirst(t *testing.T) {
	q := NewQueue(4)
	bf := bitfield.New(4)
	bf.Set(0)
	bf.Set(1)
	bf.Set(3)

	first, _ := q.take(bf)
	assert.Equal(t, 0, first)
	second, _ := q.take(bf)
	assert.Equal(t, 1, second)
	third, _ := q.take(bf)
	assert.Equal(t, 3, third)
}

func TestQueueReleasePutsPieceBack(t *testing.T) {
	q := NewQueue(2)
	bf := bitfield.New(2)
	bf.Set(0)

	index, ok := q.take(bf)
	require.True(t, ok)
	q.release(index)

	again, ok := q.take(bf)
	assert.True(t, ok)
	assert.Equal(t, index, again)
}

func TestQueueMarkCompleteIsAtMostOnce(t *testing.T) {
	q := NewQueue(1)
	assert.True(t, q.markComplete(0))
	assert.False(t, q.markComplete(0))
	assert.True(t, q.Done())
}

func TestAssembleOrdersByIndex(t *testing.T) {
	results := []Result{
		{Index: 2, Data: []byte("c")},
		{Index: 0, Data: []byte("a")},
		{Index: 1, Data: []byte("b")},
	}
	assembled := Assemble(results, 3)
	assert.Equal(t, []byte("abc"), assembled)
}
