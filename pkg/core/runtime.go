package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/cpomsoft/clev2er/pkg/api"
	"github.com/cpomsoft/clev2er/pkg/chain"
	"github.com/cpomsoft/clev2er/pkg/common/logger"
	"github.com/cpomsoft/clev2er/pkg/config"
	rcx "github.com/cpomsoft/clev2er/pkg/context"
	"github.com/cpomsoft/clev2er/pkg/jobs"
	"github.com/cpomsoft/clev2er/pkg/shm"
	"github.com/cpomsoft/clev2er/pkg/stages"
)

// ChainRuntime 链运行时核心
// 负责协调一次运行的所有组件：配置、阶段链构建、共享资源、
// 编排器与状态API
type ChainRuntime struct {
	// 上下文管理
	ctx            context.Context
	contextManager *rcx.ContextManager

	// 配置
	cfg           *config.RunConfig
	configManager *config.Manager

	// 链构建
	registry *stages.Registry
	built    *stages.BuiltChain
	shared   *shm.Registry

	// 运行组件
	orchestrator *chain.Orchestrator
	statusServer *api.Server
	sinkFiles    []*os.File

	// 状态管理
	isInitialized atomic.Bool
	startupTime   time.Time
}

// NewChainRuntime 创建链运行时
// registry为nil时使用进程级默认注册表
func NewChainRuntime(parent context.Context, configPath string, registry *stages.Registry) (*ChainRuntime, error) {
	if registry == nil {
		registry = stages.DefaultRegistry
	}

	contextManager := rcx.NewContextManager(parent)
	runCtx, _ := contextManager.GetRootContext()

	configManager, err := config.NewManager(configPath)
	if err != nil {
		contextManager.Shutdown()
		return nil, fmt.Errorf("failed to load run config: %w", err)
	}

	r := &ChainRuntime{
		ctx:            runCtx,
		contextManager: contextManager,
		cfg:            configManager.GetConfig(),
		configManager:  configManager,
		registry:       registry,
	}

	if err := r.buildChain(); err != nil {
		r.Shutdown()
		return nil, err
	}

	return r, nil
}

// buildChain 构建阶段链
// 共享内存开启时先创建共享注册表，primer实例在构建期初始化，
// 保证共享块先于任何worker存在
func (r *ChainRuntime) buildChain() error {
	if r.cfg.SharedMemory {
		r.shared = shm.NewRegistry()
	}

	built, err := r.registry.Build(r.cfg.Stages, stages.BuildParams{
		Mode:         r.cfg.ExecutionMode(),
		SharedMemory: r.cfg.SharedMemory,
		Breakpoint:   r.cfg.BreakpointStage,
		Shared:       r.shared,
	})
	if err != nil {
		return fmt.Errorf("failed to build chain: %w", err)
	}

	r.built = built
	return nil
}

// Jobs 从配置的作业源收集作业ID，保持源内顺序与源间顺序
func (r *ChainRuntime) Jobs(ctx context.Context) ([]string, error) {
	var jobIDs []string

	for _, srcCfg := range r.cfg.JobSources {
		var src jobs.Source
		switch srcCfg.Type {
		case "file":
			src = jobs.NewFileListSource(srcCfg.Name, srcCfg.Path)
		case "dir":
			src = jobs.NewDirSource(srcCfg.Name, srcCfg.Path, srcCfg.Pattern, srcCfg.MaxJobs)
		default:
			src = jobs.NewSliceSource(srcCfg.Name, srcCfg.Jobs)
		}

		ids, err := src.Jobs(ctx)
		if err != nil {
			return nil, fmt.Errorf("job source %s failed: %w", srcCfg.Name, err)
		}

		logger.Infof("job source %s provided %d jobs", srcCfg.Name, len(ids))
		jobIDs = append(jobIDs, ids...)
	}

	return jobIDs, nil
}

// Run 执行一次完整运行
// 阻塞直到全部作业完成或被中断，返回运行汇总
func (r *ChainRuntime) Run() (*chain.RunSummary, error) {
	if r.isInitialized.Load() {
		return nil, fmt.Errorf("runtime already running")
	}
	r.isInitialized.Store(true)
	r.startupTime = time.Now()

	logger.Infof("starting chain %s %s", r.cfg.ChainName, r.cfg.ChainVersion)

	jobIDs, err := r.Jobs(r.ctx)
	if err != nil {
		return nil, err
	}

	r.orchestrator = chain.NewOrchestrator(r.cfg, r.built, r.contextManager, r.logSinkOptions()...)

	// 状态API是可选的观察面，不影响运行本身
	if r.cfg.API != nil && r.cfg.API.Enabled {
		provider := api.NewRunStatusProvider(r.cfg, r.orchestrator.Monitor(), r.built, r.shared)
		r.statusServer = api.NewServer(r.cfg.API.Host, r.cfg.API.Port, provider)
		r.statusServer.Start()
	}

	return r.orchestrator.Run(r.ctx, jobIDs)
}

// logSinkOptions 把配置的实时日志输出解析为编排器选项
// 打开的输出文件由运行时持有，Shutdown时统一关闭
func (r *ChainRuntime) logSinkOptions() []chain.Option {
	if r.cfg.LogSinks == nil {
		return nil
	}

	var opts []chain.Option
	targets := []struct {
		level zapcore.Level
		path  string
	}{
		{zapcore.ErrorLevel, r.cfg.LogSinks.Error},
		{zapcore.InfoLevel, r.cfg.LogSinks.Info},
		{zapcore.DebugLevel, r.cfg.LogSinks.Debug},
	}

	for _, target := range targets {
		w, err := r.openSink(target.path)
		if err != nil {
			logger.Errorf("failed to open log sink %s for level %s: %+v", target.path, target.level, err)
			continue
		}
		if w != nil {
			opts = append(opts, chain.WithLogSink(target.level, w))
		}
	}

	return opts
}

func (r *ChainRuntime) openSink(path string) (io.Writer, error) {
	switch path {
	case "":
		return nil, nil
	case "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	r.sinkFiles = append(r.sinkFiles, f)
	return f, nil
}

// Shutdown 关闭运行时
func (r *ChainRuntime) Shutdown() {
	logger.Infof("shutting down chain runtime...")

	if r.statusServer != nil {
		if err := r.statusServer.Shutdown(context.Background()); err != nil {
			logger.Errorf("failed to shutdown status server: %+v", err)
		}
	}

	if r.configManager != nil {
		if err := r.configManager.Close(); err != nil {
			logger.Errorf("failed to close config manager: %+v", err)
		}
	}

	for _, f := range r.sinkFiles {
		if err := f.Close(); err != nil {
			logger.Errorf("failed to close log sink %s: %+v", f.Name(), err)
		}
	}
	r.sinkFiles = nil

	r.contextManager.Shutdown()
	r.isInitialized.Store(false)
}
