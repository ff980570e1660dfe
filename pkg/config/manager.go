package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
	. "github.com/cpomsoft/clev2er/pkg/config/source"
)

// ConfigChangeEvent 配置变更事件
type ConfigChangeEvent struct {
	Source    string     `json:"source"`
	Timestamp time.Time  `json:"timestamp"`
	Config    *RunConfig `json:"config"`
}

// ConfigChangeHandler 配置变更处理函数
type ConfigChangeHandler func(*ConfigChangeEvent)

// Manager 运行配置管理器
type Manager struct {
	configPath string
	source     Source[RunConfig]
	validator  *ConfigValidator

	// 当前配置
	config     *RunConfig
	configLock sync.RWMutex

	// 变更通知
	changeHandlers []ConfigChangeHandler
	handlerLock    sync.RWMutex
	changeChan     chan *ConfigChangeEvent

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewManager 创建新的配置管理器
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		configPath = "chain_config.yaml"
	}

	// 创建配置源
	source := NewFileSource[RunConfig]("chain", configPath)
	validator := NewConfigValidator()

	ctx, cancel := context.WithCancel(context.Background())

	manager := &Manager{
		configPath:     configPath,
		source:         source,
		validator:      validator,
		changeHandlers: make([]ConfigChangeHandler, 0),
		changeChan:     make(chan *ConfigChangeEvent, 10),
		ctx:            ctx,
		cancel:         cancel,
	}

	// 初始加载配置
	if err := manager.loadConfig(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	// 启动配置监控
	if err := manager.startWatching(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start config watching: %w", err)
	}

	// 启动事件处理协程
	manager.wg.Add(1)
	go manager.eventLoop()

	logger.Infof("config manager initialized, config_path: %s", configPath)
	return manager, nil
}

// GetConfig 获取当前配置（只读副本）
func (m *Manager) GetConfig() *RunConfig {
	m.configLock.RLock()
	defer m.configLock.RUnlock()

	if m.closed {
		logger.Error("manager is closed")
		return nil
	}

	// 返回深拷贝以确保线程安全
	return m.deepCopyConfig(m.config)
}

// Reload 手动重新加载配置
func (m *Manager) Reload() (*RunConfig, error) {
	if m.closed {
		return nil, fmt.Errorf("manager is closed")
	}

	if err := m.loadConfig(); err != nil {
		return nil, err
	}

	return m.GetConfig(), nil
}

// Subscribe 订阅配置变更事件
func (m *Manager) Subscribe(handler ConfigChangeHandler) {
	if m.closed {
		logger.Error("cannot subscribe to closed manager")
		return
	}

	m.handlerLock.Lock()
	defer m.handlerLock.Unlock()

	m.changeHandlers = append(m.changeHandlers, handler)
	logger.Debugf("config change handler subscribed, handlers_count: %d", len(m.changeHandlers))
}

// Close 关闭配置管理器
func (m *Manager) Close() error {
	m.configLock.Lock()
	defer m.configLock.Unlock()

	if m.closed {
		return nil
	}

	logger.Info("closing config manager")

	// 停止配置监控
	if err := m.source.Stop(); err != nil {
		logger.Errorf("failed to stop config source, err: %+v", err)
	}

	// 取消上下文，通知所有协程退出
	m.cancel()

	// 关闭事件通道
	close(m.changeChan)

	// 等待所有协程结束
	m.wg.Wait()

	m.closed = true
	logger.Info("config manager closed")
	return nil
}

// loadConfig 加载配置
func (m *Manager) loadConfig() error {
	newConfig, err := m.source.Load(m.ctx)
	if err != nil {
		logger.Errorf("failed to load config from source, err: %+v", err)
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 验证配置
	if err := m.validator.Validate(newConfig); err != nil {
		logger.Errorf("config validation failed, err: %+v", err)
		return fmt.Errorf("config validation failed: %w", err)
	}

	// 更新当前配置
	m.configLock.Lock()
	oldConfig := m.config
	m.config = newConfig
	m.configLock.Unlock()

	// 如果不是首次加载，发送变更事件
	if oldConfig != nil {
		event := &ConfigChangeEvent{
			Source:    "file",
			Timestamp: time.Now(),
			Config:    m.deepCopyConfig(newConfig),
		}

		select {
		case m.changeChan <- event:
		case <-m.ctx.Done():
			return m.ctx.Err()
		default:
			logger.Warn("config change event channel is full, dropping event")
		}
	}

	logger.Info("config loaded successfully")
	return nil
}

// startWatching 启动配置文件监控
func (m *Manager) startWatching() error {
	return m.source.Watch(m.ctx, func(newConfig *RunConfig) {
		// 验证新配置
		if err := m.validator.Validate(newConfig); err != nil {
			logger.Errorf("new config validation failed, err: %+v", err)
			return
		}

		// 更新配置
		m.configLock.Lock()
		m.config = newConfig
		m.configLock.Unlock()

		// 发送变更事件
		event := &ConfigChangeEvent{
			Source:    "file_watch",
			Timestamp: time.Now(),
			Config:    m.deepCopyConfig(newConfig),
		}

		select {
		case m.changeChan <- event:
			logger.Info("config change detected and processed")
		case <-m.ctx.Done():
			return
		default:
			logger.Warn("config change event channel is full, dropping event")
		}
	})
}

// eventLoop 事件处理循环
func (m *Manager) eventLoop() {
	defer m.wg.Done()

	for {
		select {
		case event, ok := <-m.changeChan:
			if !ok {
				logger.Debug("config change channel closed, exiting event loop")
				return
			}

			// 分发事件给所有订阅者
			m.handlerLock.RLock()
			handlers := make([]ConfigChangeHandler, len(m.changeHandlers))
			copy(handlers, m.changeHandlers)
			m.handlerLock.RUnlock()

			for _, handler := range handlers {
				// 异步调用处理器，避免阻塞
				go func(h ConfigChangeHandler) {
					defer func() {
						if r := recover(); r != nil {
							logger.Errorf("config change handler panicked, err: %+v", r)
						}
					}()
					h(event)
				}(handler)
			}

		case <-m.ctx.Done():
			logger.Debug("context cancelled, exiting event loop")
			return
		}
	}
}

// deepCopyConfig 深拷贝配置对象
func (m *Manager) deepCopyConfig(config *RunConfig) *RunConfig {
	if config == nil {
		return nil
	}

	newConfig := &RunConfig{
		ChainName:       config.ChainName,
		ChainVersion:    config.ChainVersion,
		Multiprocessing: config.Multiprocessing,
		SharedMemory:    config.SharedMemory,
		MaxWorkers:      config.MaxWorkers,
		StopOnError:     config.StopOnError,
		BreakpointStage: config.BreakpointStage,
		SnapshotDir:     config.SnapshotDir,
		LogBuffer:       config.LogBuffer,
	}

	// 深拷贝切片
	if config.Stages != nil {
		newConfig.Stages = make([]string, len(config.Stages))
		copy(newConfig.Stages, config.Stages)
	}

	// 深拷贝作业源配置
	if config.JobSources != nil {
		newConfig.JobSources = make([]*JobSourceConfig, len(config.JobSources))
		for i, src := range config.JobSources {
			newSrc := &JobSourceConfig{
				Name:    src.Name,
				Type:    src.Type,
				Path:    src.Path,
				Pattern: src.Pattern,
				MaxJobs: src.MaxJobs,
			}
			if src.Jobs != nil {
				newSrc.Jobs = make([]string, len(src.Jobs))
				copy(newSrc.Jobs, src.Jobs)
			}
			newConfig.JobSources[i] = newSrc
		}
	}

	// 深拷贝日志输出配置
	if config.LogSinks != nil {
		newConfig.LogSinks = &LogSinkConfig{
			Error: config.LogSinks.Error,
			Info:  config.LogSinks.Info,
			Debug: config.LogSinks.Debug,
		}
	}

	// 深拷贝API配置
	if config.API != nil {
		newConfig.API = &APIConfig{
			Enabled: config.API.Enabled,
			Host:    config.API.Host,
			Port:    config.API.Port,
		}
	}

	return newConfig
}
