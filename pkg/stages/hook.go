package stages

import (
	"github.com/cpomsoft/clev2er/pkg/common/logger"
	rcx "github.com/cpomsoft/clev2er/pkg/context"
)

// StageHook 阶段钩子接口
// 钩子可以在阶段处理的不同点执行，用于添加横切关注点
// 如日志记录、指标收集、调试等，而不必修改阶段的核心逻辑
type StageHook interface {
	// Name 获取钩子名称
	Name() string

	// BeforeStage 在阶段执行前调用
	BeforeStage(stage Stage, wc *rcx.WorkingContext) error

	// AfterStage 在阶段执行后调用
	AfterStage(stage Stage, wc *rcx.WorkingContext) error

	// OnError 在阶段执行出错时调用
	OnError(stage Stage, wc *rcx.WorkingContext, err error) error
}

// StageHookFunc 函数式阶段钩子
type StageHookFunc struct {
	name        string
	beforeStage func(Stage, *rcx.WorkingContext) error
	afterStage  func(Stage, *rcx.WorkingContext) error
	onError     func(Stage, *rcx.WorkingContext, error) error
}

// NewStageHookFunc 创建函数式阶段钩子
func NewStageHookFunc(name string) *StageHookFunc {
	return &StageHookFunc{name: name}
}

func (h *StageHookFunc) Name() string {
	return h.name
}

func (h *StageHookFunc) BeforeStage(stage Stage, wc *rcx.WorkingContext) error {
	if h.beforeStage != nil {
		return h.beforeStage(stage, wc)
	}
	return nil
}

func (h *StageHookFunc) AfterStage(stage Stage, wc *rcx.WorkingContext) error {
	if h.afterStage != nil {
		return h.afterStage(stage, wc)
	}
	return nil
}

func (h *StageHookFunc) OnError(stage Stage, wc *rcx.WorkingContext, err error) error {
	if h.onError != nil {
		return h.onError(stage, wc, err)
	}
	return nil
}

// SetBeforeStage 设置前置处理函数
func (h *StageHookFunc) SetBeforeStage(fn func(Stage, *rcx.WorkingContext) error) *StageHookFunc {
	h.beforeStage = fn
	return h
}

// SetAfterStage 设置后置处理函数
func (h *StageHookFunc) SetAfterStage(fn func(Stage, *rcx.WorkingContext) error) *StageHookFunc {
	h.afterStage = fn
	return h
}

// SetOnError 设置错误处理函数
func (h *StageHookFunc) SetOnError(fn func(Stage, *rcx.WorkingContext, error) error) *StageHookFunc {
	h.onError = fn
	return h
}

// HookManager 钩子管理器 - 用于安全地执行钩子
type HookManager struct {
	stageHooks []StageHook
}

// NewHookManager 创建钩子管理器
func NewHookManager() *HookManager {
	return &HookManager{
		stageHooks: make([]StageHook, 0),
	}
}

// AddStageHook 添加阶段钩子
func (hm *HookManager) AddStageHook(hook StageHook) {
	hm.stageHooks = append(hm.stageHooks, hook)
}

// ExecuteStageHooks 执行阶段钩子
func (hm *HookManager) ExecuteStageHooks(hookType string, stage Stage, wc *rcx.WorkingContext, err error) {
	for _, hook := range hm.stageHooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("stage hook %s panic: %v", hook.Name(), r)
				}
			}()

			var hookErr error
			switch hookType {
			case "before":
				hookErr = hook.BeforeStage(stage, wc)
			case "after":
				hookErr = hook.AfterStage(stage, wc)
			case "error":
				hookErr = hook.OnError(stage, wc, err)
			}

			if hookErr != nil {
				logger.Errorf("stage hook %s execution failed: %v", hook.Name(), hookErr)
			}
		}()
	}
}
