package pools

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

var leakOpts = []goleak.Option{
	goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
}

func TestBatchPool_SubmitAndWait(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	pool := NewBatchPool(context.Background(), BatchPoolConfig{
		Name:    "test",
		Workers: 2,
	})
	defer pool.Close()

	var completed atomic.Int32
	for i := 0; i < 10; i++ {
		ok := pool.Submit(func() {
			completed.Add(1)
		})
		assert.True(t, ok)
	}

	pool.WaitBatch()
	assert.Equal(t, int32(10), completed.Load())

	stats := pool.GetStats()
	assert.Equal(t, int64(10), stats.TotalTasks)
	assert.Equal(t, int64(10), stats.CompletedTasks)
	assert.Equal(t, int64(0), stats.FailedTasks)
}

func TestBatchPool_WorkerBound(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	const workers = 3
	pool := NewBatchPool(context.Background(), BatchPoolConfig{
		Name:      "bound",
		Workers:   workers,
		QueueSize: 32,
	})
	defer pool.Close()

	var active, peak atomic.Int32
	for i := 0; i < 12; i++ {
		pool.Submit(func() {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		})
	}

	pool.WaitBatch()
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestBatchPool_TaskPanicContained(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	pool := NewBatchPool(context.Background(), BatchPoolConfig{
		Name:    "panicky",
		Workers: 1,
	})
	defer pool.Close()

	var after atomic.Bool
	pool.Submit(func() { panic("task exploded") })
	pool.Submit(func() { after.Store(true) })

	pool.WaitBatch()

	// panic任务计入失败，worker存活并继续处理后续任务
	assert.True(t, after.Load())
	stats := pool.GetStats()
	assert.Equal(t, int64(1), stats.FailedTasks)
	assert.Equal(t, int64(1), stats.CompletedTasks)
}

func TestBatchPool_SubmitNil(t *testing.T) {
	pool := NewBatchPool(context.Background(), BatchPoolConfig{Workers: 1})
	defer pool.Close()

	assert.False(t, pool.Submit(nil))
}

func TestBatchPool_SubmitAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	pool := NewBatchPool(context.Background(), BatchPoolConfig{Workers: 1})
	pool.Close()

	// 关闭后的提交被拒绝并计入失败，不会panic
	assert.False(t, pool.Submit(func() {}))
	assert.Equal(t, int64(1), pool.GetStats().FailedTasks)
}

func TestBatchPool_CloseIdempotent(t *testing.T) {
	pool := NewBatchPool(context.Background(), BatchPoolConfig{Workers: 1})

	pool.Close()
	assert.NotPanics(t, func() { pool.Close() })
}
