package delivery

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/pkg/models"
)

func TestPriorityQueueOrdersByPriorityDesc(t *testing.T) {
	q := NewPriorityQueue()
	q.Push(models.Delivery{ID: "low", Priority: 1})
	q.Push(models.Delivery{ID: "high", Priority: 9})
	q.Push(models.Delivery{ID: "mid", Priority: 5})

	var order []string
	for {
		d, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, d.ID)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestPriorityQueueFIFOWithinPriority(t *testing.T) {
	q := NewPriorityQueue()
	for i := 0; i < 10; i++ {
		q.Push(models.Delivery{ID: fmt.Sprintf("d-%d", i), Priority: 5})
	}

	for i := 0; i < 10; i++ {
		d, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("d-%d", i), d.ID)
	}
}

func TestPriorityQueueEmptyPop(t *testing.T) {
	q := NewPriorityQueue()
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())

	q.Push(models.Delivery{ID: "d-1"})
	assert.Equal(t, 1, q.Len())
	_, ok = q.Pop()
	assert.True(t, ok)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestPriorityQueueInterleavedPushPop(t *testing.T) {
	q := NewPriorityQueue()
	q.Push(models.Delivery{ID: "a", Priority: 3})
	q.Push(models.Delivery{ID: "b", Priority: 7})

	d, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", d.ID)

	q.Push(models.Delivery{ID: "c", Priority: 7})
	q.Push(models.Delivery{ID: "d", Priority: 1})

	d, _ = q.Pop()
	assert.Equal(t, "c", d.ID)
	d, _ = q.Pop()
	assert.Equal(t, "a", d.ID)
	d, _ = q.Pop()
	assert.Equal(t, "d", d.ID)
}
