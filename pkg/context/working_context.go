package context

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
)

// WorkingContext 作业工作上下文
// 单个作业在阶段之间传递的可变键值状态，生命周期严格等于该作业：
// 随作业创建、随作业销毁，绝不跨作业或跨worker共享。
// 键在作业期间只增不删，后续阶段覆盖先前阶段写入的键是合法行为
// （后写覆盖——后续阶段计算的是更精确的最终值）。
type WorkingContext struct {
	// 基本标识信息
	ContextID    string    `json:"context_id"`
	JobID        string    `json:"job_id"`
	CreationTime time.Time `json:"creation_time"`

	// 阶段间传递的命名状态
	// 框架不做任何schema校验：缺失必需键属于阶段级失败，
	// 由消费该键的阶段负责报告
	values map[string]any

	// 性能跟踪
	StageElapsed  map[string]time.Duration `json:"stage_elapsed"`
	StageSequence []string                 `json:"stage_sequence"`

	// 作业级context
	baseCtx    context.Context
	cancelFunc context.CancelFunc

	// 内存池标记
	inPool bool
	mu     sync.RWMutex
}

// workingContextPool WorkingContext作为短生命周期对象，使用对象池复用，降低GC压力
var workingContextPool = sync.Pool{
	New: func() interface{} {
		return &WorkingContext{
			values:        make(map[string]any),
			StageElapsed:  make(map[string]time.Duration),
			StageSequence: make([]string, 0, 16),
		}
	},
}

// AcquireWorkingContext 从池中获取WorkingContext并用作业标识初始化
func AcquireWorkingContext(jobID string, manager *ContextManager) *WorkingContext {
	wc := workingContextPool.Get().(*WorkingContext)
	wc.reset()

	wc.ContextID = uuid.New().String()
	wc.JobID = jobID
	wc.CreationTime = time.Now()
	wc.inPool = false

	// 作业标识作为初始键写入，供各阶段读取
	wc.values["job_id"] = jobID

	if manager != nil {
		wc.baseCtx, wc.cancelFunc = manager.CreateJobContext(wc.ContextID)
		manager.RegisterWorkingContext(wc)
	} else {
		wc.baseCtx, wc.cancelFunc = context.WithCancel(context.Background())
	}

	return wc
}

// ReleaseWorkingContext 释放WorkingContext到池中
// 上下文随作业销毁，调用后不得再被任何阶段引用
func ReleaseWorkingContext(wc *WorkingContext) {
	if wc.inPool {
		return // 防止重复释放
	}

	if wc.cancelFunc != nil {
		wc.cancelFunc()
	}

	wc.inPool = true
	workingContextPool.Put(wc)
}

// reset 重置上下文对象以供复用
func (wc *WorkingContext) reset() {
	wc.ContextID = ""
	wc.JobID = ""
	wc.CreationTime = time.Time{}

	// 清空map但不重新分配
	for k := range wc.values {
		delete(wc.values, k)
	}
	for k := range wc.StageElapsed {
		delete(wc.StageElapsed, k)
	}

	wc.StageSequence = wc.StageSequence[:0]
	wc.baseCtx = nil
	wc.cancelFunc = nil
}

// Set 写入命名状态
func (wc *WorkingContext) Set(key string, value any) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	wc.values[key] = value
}

// Get 读取命名状态
func (wc *WorkingContext) Get(key string) (any, bool) {
	wc.mu.RLock()
	defer wc.mu.RUnlock()

	value, exists := wc.values[key]
	return value, exists
}

// Has 检查命名状态是否存在
func (wc *WorkingContext) Has(key string) bool {
	wc.mu.RLock()
	defer wc.mu.RUnlock()

	_, exists := wc.values[key]
	return exists
}

// Len 当前键数量
func (wc *WorkingContext) Len() int {
	wc.mu.RLock()
	defer wc.mu.RUnlock()

	return len(wc.values)
}

// RecordStageElapsed 记录单个阶段的处理耗时
func (wc *WorkingContext) RecordStageElapsed(stageName string, elapsed time.Duration) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	wc.StageElapsed[stageName] += elapsed
	wc.StageSequence = append(wc.StageSequence, stageName)

	logger.Debugf("job %s stage %s took %v", wc.JobID, stageName, elapsed)
}

// ElapsedSnapshot 阶段耗时副本
func (wc *WorkingContext) ElapsedSnapshot() map[string]time.Duration {
	wc.mu.RLock()
	defer wc.mu.RUnlock()

	elapsed := make(map[string]time.Duration, len(wc.StageElapsed))
	for k, v := range wc.StageElapsed {
		elapsed[k] = v
	}
	return elapsed
}

// Context 获取作业级context
func (wc *WorkingContext) Context() context.Context {
	if wc.baseCtx != nil {
		return wc.baseCtx
	}
	return context.Background()
}

// Cancel 取消作业
func (wc *WorkingContext) Cancel() {
	if wc.cancelFunc != nil {
		wc.cancelFunc()
	}
}

// Snapshot 转换为map用于断点快照序列化
func (wc *WorkingContext) Snapshot() map[string]any {
	wc.mu.RLock()
	defer wc.mu.RUnlock()

	result := make(map[string]any)

	result["context_id"] = wc.ContextID
	result["job_id"] = wc.JobID
	result["creation_time"] = wc.CreationTime

	values := make(map[string]any, len(wc.values))
	for k, v := range wc.values {
		values[k] = v
	}
	result["values"] = values

	elapsed := make(map[string]string, len(wc.StageElapsed))
	for k, v := range wc.StageElapsed {
		elapsed[k] = v.String()
	}
	result["stage_elapsed"] = elapsed

	sequence := make([]string, len(wc.StageSequence))
	copy(sequence, wc.StageSequence)
	result["stage_sequence"] = sequence

	return result
}
