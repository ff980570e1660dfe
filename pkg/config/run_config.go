package config

import (
	"github.com/cpomsoft/clev2er/pkg/common"
)

// APIConfig 运行状态API配置
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Host    string `mapstructure:"host" json:"host" validate:"omitempty,hostname_rfc1123|ip"`
	Port    int    `mapstructure:"port" json:"port" validate:"omitempty,min=1,max=65535"`
}

// LogSinkConfig 池化模式实时日志输出配置
// 每个严重级别一个目标："stderr"、"stdout"或文件路径，空串表示
// 该级别不做实时输出、只在运行结束后随Flush进入主日志
type LogSinkConfig struct {
	Error string `mapstructure:"error" json:"error"`
	Info  string `mapstructure:"info" json:"info"`
	Debug string `mapstructure:"debug" json:"debug"`
}

// JobSourceConfig 作业源配置
// 作业源只提供有序的作业标识符列表，引擎不关心其内容
type JobSourceConfig struct {
	Name    string   `mapstructure:"name" json:"name" validate:"required,min=1"`
	Type    string   `mapstructure:"type" json:"type" validate:"required,oneof=list file dir"`
	Path    string   `mapstructure:"path" json:"path"`
	Pattern string   `mapstructure:"pattern" json:"pattern"`
	MaxJobs int      `mapstructure:"max_jobs" json:"max_jobs" validate:"min=0"`
	Jobs    []string `mapstructure:"jobs" json:"jobs"`
}

// RunConfig 链运行配置结构体 - 引擎核心配置
type RunConfig struct {
	// 链基本配置
	ChainName    string `mapstructure:"chain_name" json:"chain_name" validate:"required,min=1"`
	ChainVersion string `mapstructure:"chain_version" json:"chain_version" validate:"required,semver"`

	// 阶段配置：有序的阶段名称列表
	Stages []string `mapstructure:"stages" json:"stages" validate:"required,min=1,dive,min=1"`

	// 并发配置
	Multiprocessing bool `mapstructure:"multiprocessing" json:"multiprocessing"`
	SharedMemory    bool `mapstructure:"shared_memory" json:"shared_memory"`
	MaxWorkers      int  `mapstructure:"max_workers" json:"max_workers" validate:"required,min=1,max=512"`

	// 失败策略
	StopOnError bool `mapstructure:"stop_on_error" json:"stop_on_error"`

	// 断点调试：执行完指定阶段后写出上下文快照并停止
	BreakpointStage string `mapstructure:"breakpoint_stage" json:"breakpoint_stage"`
	SnapshotDir     string `mapstructure:"snapshot_dir" json:"snapshot_dir"`

	// 作业源配置
	JobSources []*JobSourceConfig `mapstructure:"job_sources" json:"job_sources" validate:"dive"`

	// 池化模式下日志通道容量
	LogBuffer int `mapstructure:"log_buffer" json:"log_buffer" validate:"min=0"`

	// 池化模式下按严重级别的实时日志输出
	LogSinks *LogSinkConfig `mapstructure:"log_sinks" json:"log_sinks"`

	// 运行状态API
	API *APIConfig `mapstructure:"api" json:"api"`
}

// NewRunConfig 创建默认的运行配置
func NewRunConfig() *RunConfig {
	return &RunConfig{
		ChainName:       "cryotempo",
		ChainVersion:    "0.1.0",
		Stages:          []string{},
		Multiprocessing: false,
		SharedMemory:    false,
		MaxWorkers:      1,
		StopOnError:     false,
		BreakpointStage: "",
		SnapshotDir:     "./snapshots",
		JobSources:      []*JobSourceConfig{},
		LogBuffer:       1024,
		LogSinks: &LogSinkConfig{
			Error: "stderr",
		},
		API: &APIConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8780,
		},
	}
}

// ExecutionMode 根据配置推导执行模式
// 仅当开启多进程且worker上限大于1时才进入池化模式
func (r *RunConfig) ExecutionMode() common.ExecutionMode {
	if r.Multiprocessing && r.MaxWorkers > 1 {
		return common.ExecutionModePooled
	}
	return common.ExecutionModeSequential
}

// HasBreakpoint 是否配置了断点阶段
func (r *RunConfig) HasBreakpoint() bool {
	return r.BreakpointStage != ""
}
