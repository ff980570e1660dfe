package context

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cpomsoft/clev2er/pkg/common/logger"
)

// SnapshotWriter 断点快照写出接口
// 快照文件格式由协作方拥有，引擎只提供上下文和触发阶段名
type SnapshotWriter interface {
	// WriteSnapshot 在断点阶段执行完成后写出工作上下文的诊断快照
	WriteSnapshot(stageName string, wc *WorkingContext) error
}

// JSONSnapshotWriter 默认JSON快照实现
type JSONSnapshotWriter struct {
	dir string
}

// NewJSONSnapshotWriter 创建JSON快照写出器
func NewJSONSnapshotWriter(dir string) *JSONSnapshotWriter {
	return &JSONSnapshotWriter{dir: dir}
}

var _ SnapshotWriter = (*JSONSnapshotWriter)(nil)

// WriteSnapshot 写出快照文件
// 文件名: <job上下文ID>_<阶段名>.json
func (w *JSONSnapshotWriter) WriteSnapshot(stageName string, wc *WorkingContext) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir %s: %w", w.dir, err)
	}

	snapshot := wc.Snapshot()
	snapshot["breakpoint_stage"] = stageName
	snapshot["snapshot_time"] = time.Now()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for job %s: %w", wc.JobID, err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", wc.ContextID, stageName))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}

	logger.Infof("breakpoint snapshot written for job %s after stage %s: %s", wc.JobID, stageName, path)
	return nil
}
