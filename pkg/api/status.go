package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cpomsoft/clev2er/pkg/config"
	"github.com/cpomsoft/clev2er/pkg/metrics"
	"github.com/cpomsoft/clev2er/pkg/shm"
	"github.com/cpomsoft/clev2er/pkg/stages"
)

// RunStatusProvider 运行状态路由Provider
// 只读接口：暴露当前运行的作业计数、阶段耗时与共享内存状态，
// 不提供任何修改运行的入口
type RunStatusProvider struct {
	*BaseRouterGroup
	cfg     *config.RunConfig
	monitor *metrics.RunMonitor
	built   *stages.BuiltChain
	shared  *shm.Registry
}

// NewRunStatusProvider ...
func NewRunStatusProvider(cfg *config.RunConfig, monitor *metrics.RunMonitor, built *stages.BuiltChain, shared *shm.Registry) *RunStatusProvider {
	return &RunStatusProvider{
		BaseRouterGroup: NewBaseRouterGroup("run-status", "/api/v1/run"),
		cfg:             cfg,
		monitor:         monitor,
		built:           built,
		shared:          shared,
	}
}

func (provider *RunStatusProvider) RegisterRoutes(group *gin.RouterGroup) {
	// 运行状态相关路由
	group.GET("/status", provider.getStatus)
	group.GET("/stages", provider.listStages)
	group.GET("/shm", provider.getSharedMemory)
}

// getStatus 当前运行的汇总状态
func (provider *RunStatusProvider) getStatus(c *gin.Context) {
	stats := provider.monitor.Stats()
	stats["chain_name"] = provider.cfg.ChainName
	stats["chain_version"] = provider.cfg.ChainVersion
	stats["execution_mode"] = provider.cfg.ExecutionMode()
	stats["max_workers"] = provider.cfg.MaxWorkers

	c.JSON(http.StatusOK, stats)
}

// listStages 链内阶段实例及其生命周期状态
func (provider *RunStatusProvider) listStages(c *gin.Context) {
	type stageInfo struct {
		Name       string `json:"name"`
		Position   int    `json:"position"`
		State      string `json:"state"`
		Primer     bool   `json:"primer"`
		Breakpoint bool   `json:"breakpoint"`
	}

	infos := make([]stageInfo, 0, len(provider.built.Instances)+len(provider.built.Primers))
	for _, instance := range provider.built.AllInstances() {
		desc := instance.Descriptor()
		infos = append(infos, stageInfo{
			Name:       desc.Name,
			Position:   desc.Position,
			State:      instance.State().String(),
			Primer:     instance.IsPrimer(),
			Breakpoint: desc.Breakpoint,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(infos),
		"stages": infos,
		"time":   time.Now().Format(time.RFC3339),
	})
}

// getSharedMemory 共享内存注册表状态
func (provider *RunStatusProvider) getSharedMemory(c *gin.Context) {
	if provider.shared == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}

	stats := provider.shared.Stats()
	stats["enabled"] = true
	c.JSON(http.StatusOK, stats)
}
