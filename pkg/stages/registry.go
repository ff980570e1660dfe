package stages

import (
	"fmt"
	"sync"

	"github.com/cpomsoft/clev2er/pkg/common"
	"github.com/cpomsoft/clev2er/pkg/common/logger"
	"github.com/cpomsoft/clev2er/pkg/shm"
)

// Constructor 阶段构造函数
type Constructor func(config map[string]interface{}) (Stage, error)

// Registry 阶段类型注册表
// 封闭的命名变体集合：阶段实现在启动时注册，链构建时按
// 外部提供的阶段名列表解析，不做任何反射式动态加载
type Registry struct {
	constructors map[string]Constructor
	mu           sync.RWMutex
}

// NewRegistry 创建阶段注册表
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register 注册阶段构造函数
func (r *Registry) Register(name string, constructor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		logger.Errorf("stage %s already registered", name)
		return fmt.Errorf("stage %s already registered", name)
	}

	r.constructors[name] = constructor
	logger.Debugf("stage %s registered", name)
	return nil
}

// Get 根据名称获取构造函数
func (r *Registry) Get(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	constructor, exists := r.constructors[name]
	return constructor, exists
}

// RegisteredNames 所有已注册的阶段名
func (r *Registry) RegisteredNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	return names
}

// BuildParams 链构建参数
type BuildParams struct {
	// Mode 执行模式，决定worker实例的Init触发时机
	Mode common.ExecutionMode

	// SharedMemory 是否为共享数据阶段构建primer实例
	SharedMemory bool

	// Breakpoint 断点阶段名，空串表示无断点
	Breakpoint string

	// Shared 共享资源注册表
	Shared *shm.Registry

	// StageConfigs 按阶段名下发的配置
	StageConfigs map[string]map[string]interface{}
}

// BuiltChain 链构建产物
type BuiltChain struct {
	// Instances 按链内顺序排列的worker实例
	Instances []*Instance

	// Primers primer实例，仅在共享内存开启时非空
	// 已在构建期完成初始化（即共享块已创建）
	Primers []*Instance
}

// AllInstances 全部实例（worker在前，primer在后）
func (bc *BuiltChain) AllInstances() []*Instance {
	all := make([]*Instance, 0, len(bc.Instances)+len(bc.Primers))
	all = append(all, bc.Instances...)
	all = append(all, bc.Primers...)
	return all
}

// Build 按有序阶段名列表构建链
// 串行模式下worker实例构建期初始化；池化模式下延迟到worker内首次
// Process。primer实例总是构建期初始化，保证共享块先于任何worker存在。
// 任何Init失败都是setup错误，在此处返回并使运行在作业执行前中止。
func (r *Registry) Build(names []string, params BuildParams) (*BuiltChain, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("stage list is empty")
	}

	trigger := InitAtBuild
	if params.Mode == common.ExecutionModePooled {
		trigger = InitOnFirstProcess
	}

	built := &BuiltChain{
		Instances: make([]*Instance, 0, len(names)),
	}

	for position, name := range names {
		constructor, exists := r.Get(name)
		if !exists {
			return nil, fmt.Errorf("stage %s not registered", name)
		}

		cfg := params.StageConfigs[name]

		stage, err := constructor(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to construct stage %s: %w", name, err)
		}

		desc := Descriptor{
			Name:       name,
			Position:   position,
			Breakpoint: params.Breakpoint != "" && params.Breakpoint == name,
		}

		instance := NewInstance(stage, desc, trigger)

		// 共享数据阶段：worker实例以Borrower角色挂接
		shared, isShared := stage.(SharedDataStage)
		if isShared && params.SharedMemory {
			if params.Shared == nil {
				return nil, fmt.Errorf("stage %s requires shared memory but no registry provided", name)
			}
			shared.BindShared(params.Shared, shm.RoleBorrower)

			// primer实例：独立构造，以Owner角色在worker启动前创建共享块
			primerStage, err := constructor(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to construct primer for stage %s: %w", name, err)
			}
			primerShared, ok := primerStage.(SharedDataStage)
			if !ok {
				return nil, fmt.Errorf("primer for stage %s does not implement SharedDataStage", name)
			}
			primerShared.BindShared(params.Shared, shm.RoleOwner)

			primer := NewPrimerInstance(primerStage, desc)
			if err := primer.EnsureInit(); err != nil {
				return nil, err
			}
			built.Primers = append(built.Primers, primer)

			logger.Infof("primer instance built for stage %s, shared block ready", name)
		}

		// 构建期初始化：串行模式（setup错误在任何作业前暴露）
		if trigger == InitAtBuild {
			if err := instance.EnsureInit(); err != nil {
				return nil, err
			}
		}

		built.Instances = append(built.Instances, instance)
	}

	logger.Infof("chain built with %d stages (%d primers), mode: %s",
		len(built.Instances), len(built.Primers), params.Mode)
	return built, nil
}

// DefaultRegistry 进程级默认注册表
// 阶段实现包在init()中向其注册
var DefaultRegistry = NewRegistry()

// Register 向默认注册表注册阶段
func Register(name string, constructor Constructor) error {
	return DefaultRegistry.Register(name, constructor)
}
