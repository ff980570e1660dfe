package stages

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cpomsoft/clev2er/pkg/common"
	rcx "github.com/cpomsoft/clev2er/pkg/context"
	"github.com/cpomsoft/clev2er/pkg/shm"
)

// Stage 链处理阶段接口
// 一个阶段是链中的一个可互换处理单元，对每个作业依次执行
type Stage interface {
	// Name 获取阶段名称
	Name() string

	// Init 初始化阶段，幂等，可加载重量级参考数据
	// Init失败属于setup错误：整个运行在任何作业执行前中止
	Init() error

	// Process 处理单个作业，通过工作上下文中的命名键读写状态
	// 返回nil表示成功；返回*SkipError表示良性跳过；其他错误为作业级失败
	Process(jobID string, wc *rcx.WorkingContext) error

	// Finalize 释放阶段持有的所有资源（含共享块）
	// 即使Init从未执行也必须安全：记录日志并继续，绝不panic
	Finalize()
}

// SharedDataStage 可选接口：阶段拥有跨worker共享的大块只读参考数据
// 构建器在Init之前注入共享注册表与所有权角色：
// primer实例以Owner角色创建块，worker实例以Borrower角色挂接
type SharedDataStage interface {
	Stage

	// BindShared 注入共享注册表与角色
	BindShared(registry *shm.Registry, role shm.Role)
}

// SkipError 良性跳过
// 作业出于合法的领域原因不在本阶段处理范围内，与错误严格区分，
// 状态串携带保留标记前缀以便无类型信息时仍可分类
type SkipError struct {
	Reason string
}

// Error ...
func (e *SkipError) Error() string {
	return common.SkipMarker + ": " + e.Reason
}

// Skip 构造良性跳过错误
func Skip(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip 判断错误是否为良性跳过
// 同时识别类型化的SkipError和仅携带标记前缀的普通错误
func IsSkip(err error) bool {
	if err == nil {
		return false
	}
	var se *SkipError
	if errors.As(err, &se) {
		return true
	}
	return common.IsSkipStatus(err.Error())
}

// SetupError 阶段初始化失败
// 无论在构建期还是worker内惰性初始化时发生，都对整个运行致命
type SetupError struct {
	Stage string
	Err   error
}

// Error ...
func (e *SetupError) Error() string {
	return fmt.Sprintf("stage %s setup failed: %v", e.Stage, e.Err)
}

// Unwrap ...
func (e *SetupError) Unwrap() error {
	return e.Err
}

// IsSetup 判断错误是否为setup错误
func IsSetup(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

// BaseStage 基础阶段实现
type BaseStage struct {
	name   string
	config sync.Map
}

// NewBaseStage 创建基础阶段
func NewBaseStage(name string) *BaseStage {
	return &BaseStage{name: name}
}

// Name 获取阶段名称
func (s *BaseStage) Name() string {
	return s.name
}

// Configure 配置阶段
func (s *BaseStage) Configure(config map[string]interface{}) *BaseStage {
	for key, value := range config {
		s.config.Store(key, value)
	}
	return s
}

// GetConfig 获取配置值
func (s *BaseStage) GetConfig(key string, defaultValue interface{}) interface{} {
	if value, ok := s.config.Load(key); ok {
		return value
	}
	return defaultValue
}

// Init 默认初始化（无重量级资源）
func (s *BaseStage) Init() error {
	return nil
}

// Finalize 默认清理
func (s *BaseStage) Finalize() {}

// Process 默认处理方法（需要被具体实现覆盖）
func (s *BaseStage) Process(jobID string, wc *rcx.WorkingContext) error {
	return fmt.Errorf("stage %s does not implement Process method", s.name)
}

// String 字符串表示
func (s *BaseStage) String() string {
	return fmt.Sprintf("Stage(%s)", s.name)
}

// FuncStage 基于处理器函数的阶段实现
type FuncStage struct {
	*BaseStage
	processor func(string, *rcx.WorkingContext) error
}

// NewFuncStage 创建基于处理器函数的阶段
func NewFuncStage(name string, processor func(string, *rcx.WorkingContext) error) *FuncStage {
	return &FuncStage{
		BaseStage: NewBaseStage(name),
		processor: processor,
	}
}

// Process 执行处理器函数
func (s *FuncStage) Process(jobID string, wc *rcx.WorkingContext) error {
	if s.processor == nil {
		return fmt.Errorf("no processor function defined for stage %s", s.name)
	}
	return s.processor(jobID, wc)
}
