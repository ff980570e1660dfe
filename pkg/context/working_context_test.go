package context

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWorkingContext_AcquireSeedsJobID(t *testing.T) {
	wc := AcquireWorkingContext("job-001", nil)
	defer ReleaseWorkingContext(wc)

	if wc.JobID != "job-001" {
		t.Errorf("Expected job id 'job-001', got '%s'", wc.JobID)
	}
	if wc.ContextID == "" {
		t.Error("Expected non-empty context id")
	}

	// 作业标识作为初始键写入
	value, ok := wc.Get("job_id")
	if !ok || value != "job-001" {
		t.Errorf("Expected job_id key seeded, got %v (ok=%v)", value, ok)
	}
}

func TestWorkingContext_SetGetOverwrite(t *testing.T) {
	wc := AcquireWorkingContext("job-002", nil)
	defer ReleaseWorkingContext(wc)

	wc.Set("elevation", 1.5)
	wc.Set("elevation", 2.5) // 后写覆盖是合法行为

	value, ok := wc.Get("elevation")
	if !ok {
		t.Fatal("Expected elevation key to exist")
	}
	if value != 2.5 {
		t.Errorf("Expected last write 2.5, got %v", value)
	}

	if !wc.Has("elevation") {
		t.Error("Expected Has to report existing key")
	}
	if wc.Has("missing") {
		t.Error("Expected Has to report missing key as absent")
	}
}

func TestWorkingContext_ResetBetweenJobs(t *testing.T) {
	wc := AcquireWorkingContext("job-a", nil)
	wc.Set("leftover", "state")
	wc.RecordStageElapsed("stage1", time.Millisecond)
	ReleaseWorkingContext(wc)

	// 池复用的上下文不得泄露上一个作业的状态
	wc2 := AcquireWorkingContext("job-b", nil)
	defer ReleaseWorkingContext(wc2)

	if wc2.Has("leftover") {
		t.Error("Reused context leaked previous job state")
	}
	if len(wc2.ElapsedSnapshot()) != 0 {
		t.Error("Reused context leaked previous job timing")
	}
	if wc2.JobID != "job-b" {
		t.Errorf("Expected job id 'job-b', got '%s'", wc2.JobID)
	}
}

func TestWorkingContext_RecordStageElapsed(t *testing.T) {
	wc := AcquireWorkingContext("job-003", nil)
	defer ReleaseWorkingContext(wc)

	wc.RecordStageElapsed("read", 100*time.Millisecond)
	wc.RecordStageElapsed("read", 50*time.Millisecond)
	wc.RecordStageElapsed("write", 10*time.Millisecond)

	elapsed := wc.ElapsedSnapshot()
	if elapsed["read"] != 150*time.Millisecond {
		t.Errorf("Expected read elapsed 150ms, got %v", elapsed["read"])
	}
	if elapsed["write"] != 10*time.Millisecond {
		t.Errorf("Expected write elapsed 10ms, got %v", elapsed["write"])
	}
}

func TestContextManager_JobLifecycle(t *testing.T) {
	cm := NewContextManager(nil)
	defer cm.Shutdown()

	wc := AcquireWorkingContext("job-004", cm)

	if cm.ActiveJobs() != 1 {
		t.Errorf("Expected 1 active job, got %d", cm.ActiveJobs())
	}

	got, ok := cm.GetWorkingContext(wc.ContextID)
	if !ok || got.JobID != "job-004" {
		t.Error("Expected registered working context to be retrievable")
	}

	ReleaseWorkingContext(wc)

	if cm.ActiveJobs() != 0 {
		t.Errorf("Expected 0 active jobs after release, got %d", cm.ActiveJobs())
	}
}

func TestContextManager_CancelPropagates(t *testing.T) {
	cm := NewContextManager(nil)

	wc := AcquireWorkingContext("job-005", cm)
	defer ReleaseWorkingContext(wc)

	cm.Shutdown()

	select {
	case <-wc.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Expected job context to be cancelled on shutdown")
	}
}

func TestJSONSnapshotWriter(t *testing.T) {
	dir := t.TempDir()
	writer := NewJSONSnapshotWriter(dir)

	wc := AcquireWorkingContext("job-006", nil)
	defer ReleaseWorkingContext(wc)
	wc.Set("key", "value")
	wc.RecordStageElapsed("stage1", time.Millisecond)

	if err := writer.WriteSnapshot("stage1", wc); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}

	path := filepath.Join(dir, wc.ContextID+"_stage1.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read snapshot file: %v", err)
	}

	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("Snapshot is not valid JSON: %v", err)
	}

	if snapshot["job_id"] != "job-006" {
		t.Errorf("Expected job_id in snapshot, got %v", snapshot["job_id"])
	}
	if snapshot["breakpoint_stage"] != "stage1" {
		t.Errorf("Expected breakpoint_stage in snapshot, got %v", snapshot["breakpoint_stage"])
	}
}
