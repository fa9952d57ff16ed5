package rundir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ResourcesDir 观察者在根目录下保存资源文件的目录
const ResourcesDir = "_resources"

// Reader 运行目录读取器
type Reader struct {
	runsRoot string
}

// NewReader 创建读取器，runsRoot 用于定位 run.json 中以相对路径记录的资源文件
func NewReader(runsRoot string) *Reader {
	return &Reader{runsRoot: runsRoot}
}

// Read 解析一个运行目录
//
// 固定文件缺失时对应字段为 None；固定文件内容无法解析时返回 *RunParseError。
// 产物与资源只记录路径，不读取内容。
func (r *Reader) Read(dir string) (*ParsedRun, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read run dir %s: %w", dir, err)
	}

	p := &ParsedRun{Dir: dir, Artifacts: []FileRef{}, Resources: []FileRef{}}

	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(dir, name)
		if wellKnown[name] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			p.Warnings = append(p.Warnings, fmt.Sprintf("skip artifact %s: %v", name, err))
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		p.Artifacts = append(p.Artifacts, FileRef{Name: name, Path: path, Size: info.Size()})
	}
	sort.Slice(p.Artifacts, func(i, j int) bool { return p.Artifacts[i].Name < p.Artifacts[j].Name })

	if err := r.readConfig(p); err != nil {
		return nil, err
	}
	if err := r.readRun(p); err != nil {
		return nil, err
	}
	if err := r.readCout(p); err != nil {
		return nil, err
	}
	if err := r.readMetrics(p); err != nil {
		return nil, err
	}
	if err := r.readInfo(p); err != nil {
		return nil, err
	}
	return p, nil
}

// readOptional 读取固定文件，文件不存在时 ok=false
func readOptional(dir, name string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, &RunParseError{RunDir: dir, File: name, Err: err}
	}
	return data, true, nil
}

func (r *Reader) readConfig(p *ParsedRun) error {
	data, ok, err := readOptional(p.Dir, FileConfig)
	if err != nil || !ok {
		return err
	}
	m, err := decodeMapping(data)
	if err != nil {
		return &RunParseError{RunDir: p.Dir, File: FileConfig, Err: err}
	}
	p.Config = Some(m)
	return nil
}

func (r *Reader) readInfo(p *ParsedRun) error {
	data, ok, err := readOptional(p.Dir, FileInfo)
	if err != nil || !ok {
		return err
	}
	m, err := decodeMapping(data)
	if err != nil {
		return &RunParseError{RunDir: p.Dir, File: FileInfo, Err: err}
	}
	p.Info = Some(m)
	return nil
}

func (r *Reader) readCout(p *ParsedRun) error {
	data, ok, err := readOptional(p.Dir, FileCout)
	if err != nil || !ok {
		return err
	}
	// BSON 字符串必须是合法 UTF-8
	p.CapturedOut = Some(strings.ToValidUTF8(string(data), "�"))
	return nil
}

func (r *Reader) readMetrics(p *ParsedRun) error {
	data, ok, err := readOptional(p.Dir, FileMetrics)
	if err != nil || !ok {
		return err
	}
	series, err := decodeMetrics(data)
	if err != nil {
		return &RunParseError{RunDir: p.Dir, File: FileMetrics, Err: err}
	}
	p.Metrics = Some(series)
	return nil
}

func (r *Reader) readRun(p *ParsedRun) error {
	data, ok, err := readOptional(p.Dir, FileRun)
	if err != nil || !ok {
		return err
	}

	var meta RunMeta
	if err := decodeJSON(data, &meta); err != nil {
		return &RunParseError{RunDir: p.Dir, File: FileRun, Err: err}
	}
	meta.Host = normalizeMap(meta.Host)
	meta.Meta = normalizeMap(meta.Meta)
	for i, repo := range meta.Experiment.Repositories {
		meta.Experiment.Repositories[i] = normalizeMap(repo)
	}
	p.Run = Some(&meta)

	if len(meta.Result) > 0 {
		var result any
		if err := decodeJSON(meta.Result, &result); err != nil {
			return &RunParseError{RunDir: p.Dir, File: FileRun, Err: fmt.Errorf("result: %w", err)}
		}
		p.Result = Some(normalizeNumbers(result))
	}

	for _, entry := range meta.Resources {
		if len(entry) == 0 {
			continue
		}
		ref, ok := r.resolveResource(entry)
		if !ok {
			p.Warnings = append(p.Warnings, fmt.Sprintf("resource %s not found", entry[0]))
			continue
		}
		p.Resources = append(p.Resources, ref)
	}
	return nil
}

// resolveResource 定位资源文件
//
// 条目格式为 [原始路径, 存储路径]。依次尝试：存储路径（相对路径基于 runsRoot）、
// runsRoot/_resources/<存储文件名>。找不到时 ok=false。
func (r *Reader) resolveResource(entry []string) (FileRef, bool) {
	name := entry[0]
	stored := name
	if len(entry) > 1 && entry[1] != "" {
		stored = entry[1]
	}

	candidates := []string{stored}
	if !filepath.IsAbs(stored) && r.runsRoot != "" {
		candidates = []string{filepath.Join(r.runsRoot, stored)}
	}
	if r.runsRoot != "" {
		candidates = append(candidates, filepath.Join(r.runsRoot, ResourcesDir, filepath.Base(stored)))
	}

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err == nil && info.Mode().IsRegular() {
			return FileRef{Name: name, Path: c, Size: info.Size()}, true
		}
	}
	return FileRef{}, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
