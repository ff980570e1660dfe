package context

import (
	"context"
	"sync"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
)

// ContextManager 上下文管理器 - 管理运行级和作业级的context
// 替代进程级全局状态：由编排器持有并显式传递
type ContextManager struct {
	// 运行级别的根context
	runCtx    context.Context
	runCancel context.CancelFunc

	// 作业上下文映射
	workingContexts sync.Map // contextID -> *WorkingContext
}

// NewContextManager 创建上下文管理器
func NewContextManager(parent context.Context) *ContextManager {
	if parent == nil {
		parent = context.Background()
	}
	runCtx, runCancel := context.WithCancel(parent)

	return &ContextManager{
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

// GetRootContext 获取运行级根Context
func (cm *ContextManager) GetRootContext() (context.Context, context.CancelFunc) {
	return cm.runCtx, cm.runCancel
}

// CreateJobContext 创建作业上下文，继承运行上下文
// 作业不设超时：卡住的作业会阻塞其所在批次，这是已记录的设计取舍
func (cm *ContextManager) CreateJobContext(contextID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cm.runCtx)

	// 包装cancel函数，添加清理逻辑
	wrappedCancel := func() {
		cancel()
		cm.workingContexts.Delete(contextID)
	}

	return ctx, wrappedCancel
}

// RegisterWorkingContext 注册作业上下文
func (cm *ContextManager) RegisterWorkingContext(wc *WorkingContext) {
	cm.workingContexts.Store(wc.ContextID, wc)
}

// GetWorkingContext 获取作业上下文
func (cm *ContextManager) GetWorkingContext(contextID string) (*WorkingContext, bool) {
	if val, ok := cm.workingContexts.Load(contextID); ok {
		return val.(*WorkingContext), true
	}
	return nil, false
}

// ActiveJobs 当前活跃的作业数
func (cm *ContextManager) ActiveJobs() int {
	count := 0
	cm.workingContexts.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// CancelAllJobs 取消所有作业
// 注意：取消只在批次边界（池化）或作业间隙（串行）被观察到，
// 进行中的阶段会运行至完成
func (cm *ContextManager) CancelAllJobs() {
	logger.Infof("canceling all active jobs")

	cm.workingContexts.Range(func(key, value interface{}) bool {
		if wc, ok := value.(*WorkingContext); ok {
			wc.Cancel()
		}
		return true
	})
}

// Shutdown 优雅关闭
func (cm *ContextManager) Shutdown() {
	logger.Infof("shutting down context manager")

	cm.CancelAllJobs()
	cm.runCancel()
}
