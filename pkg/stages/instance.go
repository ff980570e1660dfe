package stages

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
	rcx "github.com/cpomsoft/clev2er/pkg/context"
)

// LifecycleState 阶段实例生命周期状态
// 显式三态建模：Unbuilt -> Initialized -> Finalized
// 状态迁移的触发点由执行模式参数化，而非散落的模式分支
type LifecycleState int32

const (
	// StateUnbuilt 实例已构造但Init尚未执行
	StateUnbuilt LifecycleState = iota

	// StateInitialized Init已成功执行
	StateInitialized

	// StateFinalized Finalize已执行，实例不可再使用
	StateFinalized
)

// String ...
func (s LifecycleState) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateInitialized:
		return "initialized"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// InitTrigger Init的触发时机，由执行模式决定
type InitTrigger int8

const (
	// InitAtBuild 构建链时立即初始化
	// 串行模式与primer实例使用：setup错误在任何作业执行前暴露
	InitAtBuild InitTrigger = iota

	// InitOnFirstProcess worker内首次Process时惰性初始化
	// 池化模式使用，避免把重量级状态在分发边界上序列化
	InitOnFirstProcess
)

// Descriptor 阶段描述符，链构建后不可变
type Descriptor struct {
	Name       string `json:"name"`
	Position   int    `json:"position"`
	Breakpoint bool   `json:"breakpoint"`
}

// Instance 阶段实例
// 每个阶段每次链构建对应一个实例（开启共享内存时每个共享数据阶段
// 额外一个primer实例）。实例自身只读复用：所有作业级可变状态都在
// WorkingContext中，因此跨作业/worker共享实例是安全的
type Instance struct {
	stage   Stage
	desc    Descriptor
	trigger InitTrigger
	primer  bool

	// 生命周期控制
	state        atomic.Int32
	initOnce     sync.Once
	initErr      error
	finalizeOnce sync.Once

	// 钩子管理器
	hooks *HookManager
}

// NewInstance 创建阶段实例
func NewInstance(stage Stage, desc Descriptor, trigger InitTrigger) *Instance {
	return &Instance{
		stage:   stage,
		desc:    desc,
		trigger: trigger,
		hooks:   NewHookManager(),
	}
}

// NewPrimerInstance 创建primer实例
// primer只为在worker启动前创建共享资源而存在，总是在编排器中构建期初始化
func NewPrimerInstance(stage Stage, desc Descriptor) *Instance {
	return &Instance{
		stage:   stage,
		desc:    desc,
		trigger: InitAtBuild,
		primer:  true,
		hooks:   NewHookManager(),
	}
}

// Name 阶段名称
func (si *Instance) Name() string {
	return si.desc.Name
}

// Descriptor 阶段描述符
func (si *Instance) Descriptor() Descriptor {
	return si.desc
}

// IsPrimer 是否为primer实例
func (si *Instance) IsPrimer() bool {
	return si.primer
}

// State 当前生命周期状态
func (si *Instance) State() LifecycleState {
	return LifecycleState(si.state.Load())
}

// Trigger Init触发模式
func (si *Instance) Trigger() InitTrigger {
	return si.trigger
}

// AddStageHook 添加阶段钩子
func (si *Instance) AddStageHook(hook StageHook) *Instance {
	si.hooks.AddStageHook(hook)
	return si
}

// EnsureInit 确保Init至多执行一次
// 失败以SetupError返回：对整个运行致命
func (si *Instance) EnsureInit() error {
	si.initOnce.Do(func() {
		if err := si.stage.Init(); err != nil {
			si.initErr = &SetupError{Stage: si.desc.Name, Err: err}
			logger.Errorf("stage %s initialization failed: %v", si.desc.Name, err)
			return
		}
		si.state.Store(int32(StateInitialized))
		logger.Debugf("stage %s initialized", si.desc.Name)
	})
	return si.initErr
}

// Execute 对单个作业执行本阶段，包含惰性初始化与钩子调用
func (si *Instance) Execute(jobID string, wc *rcx.WorkingContext) error {
	// 惰性初始化：池化模式下在worker内首次使用时触发
	if si.trigger == InitOnFirstProcess {
		if err := si.EnsureInit(); err != nil {
			return err
		}
	}

	if si.State() != StateInitialized {
		return &SetupError{Stage: si.desc.Name, Err: fmt.Errorf("stage executed in state %s", si.State())}
	}

	// 执行前置钩子
	si.hooks.ExecuteStageHooks("before", si.stage, wc, nil)

	err := si.stage.Process(jobID, wc)

	if err != nil && !IsSkip(err) {
		// 执行错误钩子
		si.hooks.ExecuteStageHooks("error", si.stage, wc, err)
		return err
	}

	// 执行后置钩子
	si.hooks.ExecuteStageHooks("after", si.stage, wc, nil)

	return err
}

// Finalize 终结实例，每次运行恰好执行一次
// 即使Init从未执行也必须安全：记录日志并继续，绝不向上抛出
func (si *Instance) Finalize() {
	si.finalizeOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("stage %s finalize panic: %v", si.desc.Name, r)
			}
		}()

		prev := si.State()
		si.state.Store(int32(StateFinalized))

		si.stage.Finalize()
		logger.Debugf("stage %s finalized (was %s)", si.desc.Name, prev)
	})
}

// String 字符串表示
func (si *Instance) String() string {
	kind := "stage"
	if si.primer {
		kind = "primer"
	}
	return fmt.Sprintf("Instance(%s, %s, pos=%d, state=%s)",
		si.desc.Name, kind, si.desc.Position, si.State())
}
