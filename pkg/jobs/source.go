package jobs

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source 作业来源接口，提供一次运行要处理的作业ID列表
type Source interface {
	// Name 来源名称
	Name() string

	// Jobs 获取作业ID列表
	Jobs(ctx context.Context) ([]string, error)
}

// SliceSource 静态作业列表
type SliceSource struct {
	name   string
	jobIDs []string
}

var _ Source = (*SliceSource)(nil)

// NewSliceSource 创建静态作业来源
func NewSliceSource(name string, jobIDs []string) *SliceSource {
	return &SliceSource{
		name:   name,
		jobIDs: jobIDs,
	}
}

func (s *SliceSource) Name() string {
	return s.name
}

func (s *SliceSource) Jobs(_ context.Context) ([]string, error) {
	out := make([]string, len(s.jobIDs))
	copy(out, s.jobIDs)
	return out, nil
}

// FileListSource 从文本文件读取作业列表，每行一个作业ID
// 空行与#开头的行忽略
type FileListSource struct {
	name string
	path string
}

var _ Source = (*FileListSource)(nil)

// NewFileListSource 创建文件列表作业来源
func NewFileListSource(name, path string) *FileListSource {
	return &FileListSource{
		name: name,
		path: path,
	}
}

func (s *FileListSource) Name() string {
	return s.name
}

func (s *FileListSource) Jobs(ctx context.Context) ([]string, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job list %s: %w", s.path, err)
	}
	defer file.Close()

	var jobIDs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		jobIDs = append(jobIDs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job list %s: %w", s.path, err)
	}

	return jobIDs, nil
}

// DirSource 扫描目录，匹配到的文件路径作为作业ID
type DirSource struct {
	name    string
	dir     string
	pattern string
	maxJobs int
}

var _ Source = (*DirSource)(nil)

// NewDirSource 创建目录扫描作业来源
// pattern为空时匹配全部文件，maxJobs<=0表示不限制
func NewDirSource(name, dir, pattern string, maxJobs int) *DirSource {
	return &DirSource{
		name:    name,
		dir:     dir,
		pattern: pattern,
		maxJobs: maxJobs,
	}
}

func (s *DirSource) Name() string {
	return s.name
}

func (s *DirSource) Jobs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan job dir %s: %w", s.dir, err)
	}

	var jobIDs []string
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if entry.IsDir() {
			continue
		}
		if s.pattern != "" {
			matched, err := filepath.Match(s.pattern, entry.Name())
			if err != nil {
				return nil, fmt.Errorf("invalid job pattern %q: %w", s.pattern, err)
			}
			if !matched {
				continue
			}
		}
		jobIDs = append(jobIDs, filepath.Join(s.dir, entry.Name()))
	}

	// 目录遍历顺序不保证，排序保证运行可复现
	sort.Strings(jobIDs)

	if s.maxJobs > 0 && len(jobIDs) > s.maxJobs {
		jobIDs = jobIDs[:s.maxJobs]
	}

	return jobIDs, nil
}
