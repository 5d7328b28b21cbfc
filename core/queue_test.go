package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedTasks(names ...string) []*Task {
	out := make([]*Task, len(names))
	for i, n := range names {
		out[i] = NewTask(n, nil)
	}
	return out
}

func popNames(t *testing.T, q readyQueue) []string {
	t.Helper()
	var names []string
	for q.len() > 0 {
		task, ok := q.pop()
		require.True(t, ok)
		names = append(names, task.Name())
	}
	return names
}

// TestLIFOQueue_Order tests the ready stack
// Main test items:
// 1. The most recently pushed task is popped first
// 2. Pop on empty reports false
func TestLIFOQueue_Order(t *testing.T) {
	q := newReadyQueue(QueuePolicyLIFO)
	for _, task := range namedTasks("a", "b", "c") {
		q.push(task)
	}

	assert.Equal(t, []string{"c", "b", "a"}, popNames(t, q))
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestFIFOQueue_Order(t *testing.T) {
	q := newReadyQueue(QueuePolicyFIFO)
	for _, task := range namedTasks("a", "b", "c") {
		q.push(task)
	}

	assert.Equal(t, []string{"a", "b", "c"}, popNames(t, q))
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestReadyQueue_Drain(t *testing.T) {
	for _, policy := range []QueuePolicy{QueuePolicyLIFO, QueuePolicyFIFO} {
		t.Run(string(policy), func(t *testing.T) {
			q := newReadyQueue(policy)
			for _, task := range namedTasks("a", "b") {
				q.push(task)
			}

			drained := q.drain()
			assert.Len(t, drained, 2)
			assert.Equal(t, 0, q.len())
		})
	}
}

// TestFIFOQueue_Compaction tests that the backing array shrinks
// Main test items:
// 1. After a large burst is mostly consumed, capacity drops
// 2. Remaining order is preserved
func TestFIFOQueue_Compaction(t *testing.T) {
	q := newFIFOQueue()
	tasks := make([]*Task, 256)
	for i := range tasks {
		tasks[i] = NewTask("t", nil)
		q.push(tasks[i])
	}
	grown := cap(q.tasks)

	for range 250 {
		_, ok := q.pop()
		require.True(t, ok)
	}

	assert.Less(t, cap(q.tasks), grown)
	for i := 250; i < 256; i++ {
		got, ok := q.pop()
		require.True(t, ok)
		assert.Same(t, tasks[i], got)
	}
}

func TestParseQueuePolicy(t *testing.T) {
	p, err := ParseQueuePolicy("")
	require.NoError(t, err)
	assert.Equal(t, QueuePolicyLIFO, p)

	p, err = ParseQueuePolicy(" FIFO ")
	require.NoError(t, err)
	assert.Equal(t, QueuePolicyFIFO, p)

	_, err = ParseQueuePolicy("priority")
	assert.Error(t, err)
}
