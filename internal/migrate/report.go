package migrate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SkippedDir 被跳过的目录
type SkippedDir struct {
	Name   string
	Reason string
}

// RunFailure 迁移失败的运行
type RunFailure struct {
	ID  int
	Dir string
	Err error
}

// Report 迁移结果
type Report struct {
	mu sync.Mutex

	Migrated []int
	Skipped  []SkippedDir
	Failed   []RunFailure
}

func (r *Report) addMigrated(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Migrated = append(r.Migrated, id)
}

func (r *Report) addSkipped(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skipped = append(r.Skipped, SkippedDir{Name: name, Reason: reason})
}

func (r *Report) addFailed(id int, dir string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, RunFailure{ID: id, Dir: dir, Err: err})
}

// sort 按 ID / 名称排序，使并发执行的结果与顺序执行一致
func (r *Report) sort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.Ints(r.Migrated)
	sort.Slice(r.Skipped, func(i, j int) bool { return r.Skipped[i].Name < r.Skipped[j].Name })
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].ID < r.Failed[j].ID })
}

// HasFailures 是否有运行迁移失败（跳过的目录不计入）
func (r *Report) HasFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failed) > 0
}

// FailedIDs 失败的运行 ID
func (r *Report) FailedIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.Failed))
	for _, f := range r.Failed {
		ids = append(ids, f.ID)
	}
	return ids
}

// Summary 人类可读的汇总
func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "migrated: %d, skipped: %d, failed: %d\n", len(r.Migrated), len(r.Skipped), len(r.Failed))
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "  skipped %s: %s\n", s.Name, s.Reason)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "  failed run %d (%s): %v\n", f.ID, f.Dir, f.Err)
	}
	return b.String()
}
