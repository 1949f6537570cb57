package concurrency

import (
	"sync/atomic"
	"testing"
	"time"

	"signal_trader/internal/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunAllWaitsForEveryTask(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 4}, mock.NewLogger())
	defer wp.Stop()

	var done int32
	tasks := make([]func(), 0, 8)
	for i := 0; i < 8; i++ {
		tasks = append(tasks, func() {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&done, 1)
		})
	}

	wp.RunAll(tasks...)
	assert.Equal(t, int32(8), atomic.LoadInt32(&done))
}

func TestWorkerPool_PanicDoesNotBlockOthers(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2}, mock.NewLogger())
	defer wp.Stop()

	var done int32
	wp.RunAll(
		func() { panic("boom") },
		func() { atomic.AddInt32(&done, 1) },
	)
	assert.Equal(t, int32(1), atomic.LoadInt32(&done))
}

func TestMap_KeepsOrderAndRecoversPanics(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "deployments", MaxWorkers: 3}, mock.NewLogger())
	defer wp.Stop()

	type result struct {
		id  string
		err error
	}
	items := []string{"dep-a", "dep-b", "dep-c", "dep-d"}
	out := Map(wp, items,
		func(id string) result {
			if id == "dep-c" {
				panic("venue client nil")
			}
			time.Sleep(time.Duration(len(id)) * time.Millisecond)
			return result{id: id}
		},
		func(id string, err error) result { return result{id: id, err: err} },
	)

	require.Len(t, out, 4)
	for i, r := range out {
		assert.Equal(t, items[i], r.id)
	}
	assert.NoError(t, out[0].err)
	assert.NoError(t, out[3].err)
	require.Error(t, out[2].err)
	assert.Contains(t, out[2].err.Error(), "panic in deployments worker")
}

func TestMap_Empty(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "empty"}, mock.NewLogger())
	defer wp.Stop()

	out := Map(wp, []int{}, func(i int) int { return i }, func(i int, _ error) int { return -1 })
	assert.Empty(t, out)
}
