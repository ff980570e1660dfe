package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
	"github.com/cpomsoft/clev2er/pkg/core"
)

// Args 命令行参数结构
type Args struct {
	Config    string
	LogConfig string
}

// parseArgs 解析命令行参数
func parseArgs() *Args {
	args := &Args{}

	flag.StringVar(&args.Config, "config", "config.yaml", "Run configuration file path")
	flag.StringVar(&args.LogConfig, "log-config", "", "Logger configuration file path")

	flag.Parse()
	return args
}

func main() {
	// os.Exit放在最外层，保证run内的defer（运行时关闭等）先执行
	os.Exit(run(parseArgs()))
}

func run(args *Args) int {
	// 初始化日志
	if err := logger.Init(args.LogConfig); err != nil {
		fmt.Printf("failed to initialize logger: %+v\n", err)
		return 1
	}

	// 创建上下文：收到中断信号后取消，运行在批次边界停止
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("received signal %s, stopping at next batch boundary...", sig)
		cancel()
	}()

	// 创建链运行时
	runtime, err := core.NewChainRuntime(ctx, args.Config, nil)
	if err != nil {
		logger.Errorf("failed to create chain runtime: %+v", err)
		return 1
	}
	defer runtime.Shutdown()

	// 执行运行，阻塞直到完成或中断
	summary, err := runtime.Run()
	if err != nil {
		logger.Errorf("chain run aborted: %+v", err)
		return 1
	}

	logger.Infof("chain run completed: total=%d processed=%d skipped=%d errored=%d duration=%v",
		summary.TotalJobs, summary.Processed, summary.Skipped, summary.Errored, summary.Duration)

	// 任一作业出错则以非零码退出
	if summary.Failed() {
		return 1
	}
	return 0
}
