package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// resetGlobalLogger 重置全局logger（测试辅助函数）
func resetGlobalLogger() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
	globalLogger = nil
	sugar = nil
	once = sync.Once{}
}

func TestLoggerBasicFunctionality(t *testing.T) {
	resetGlobalLogger()

	logDir := t.TempDir()
	t.Setenv("CLEV2ER_LOG_DIR", logDir)

	if err := Init(); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	// 各种日志级别
	Debug("Debug message", zap.String("level", "debug"))
	Info("Info message", zap.String("level", "info"))
	Warn("Warning message", zap.String("level", "warn"))
	Error("Error message", zap.String("level", "error"))

	// 格式化日志
	Debugf("Debug formatted: %s", "debug")
	Infof("Info formatted: %s", "info")
	Warnf("Warning formatted: %s", "warning")
	Errorf("Error formatted: %s", "error")

	_ = Sync()

	// 验证日志文件已创建
	if _, err := os.Stat(filepath.Join(logDir, "chain.log")); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}

func TestLoggerFileContent(t *testing.T) {
	resetGlobalLogger()

	logDir := t.TempDir()
	t.Setenv("CLEV2ER_LOG_DIR", logDir)
	t.Setenv("CLEV2ER_LOG_CONSOLE_ENABLE", "false")

	if err := Init(); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	Infof("chain run started: %s", "testchain")
	_ = Sync()

	data, err := os.ReadFile(filepath.Join(logDir, "chain.log"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	if !strings.Contains(string(data), "chain run started: testchain") {
		t.Errorf("Log file missing expected message, got: %s", string(data))
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CLEV2ER_LOG_LEVEL", "DEBUG")
	t.Setenv("CLEV2ER_LOG_DIR", t.TempDir())
	t.Setenv("CLEV2ER_LOG_FILE_MAX_SIZE", "42")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.LogLevel != "DEBUG" {
		t.Errorf("Expected log level DEBUG, got %s", config.LogLevel)
	}
	if config.File.MaxSize != 42 {
		t.Errorf("Expected max_size 42, got %d", config.File.MaxSize)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"INFO":    "info",
		"Warning": "warn",
		"error":   "error",
		"bogus":   "info", // 未知级别回退到info
	}

	for input, expected := range cases {
		if got := parseLogLevel(input).String(); got != expected {
			t.Errorf("parseLogLevel(%q) = %s, expected %s", input, got, expected)
		}
	}
}
