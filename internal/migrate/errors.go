package migrate

import (
	"fmt"
	"strconv"
)

// reservedDirs 观察者在根目录下使用的非运行目录
var reservedDirs = map[string]bool{
	"_sources":   true,
	"_resources": true,
}

// InvalidRunIdentifier 目录名不是合法的运行 ID
type InvalidRunIdentifier struct {
	Name string
}

func (e *InvalidRunIdentifier) Error() string {
	return fmt.Sprintf("invalid run identifier %q: expected a positive integer", e.Name)
}

// ParseRunID 将目录名解析为运行 ID（正整数）
func ParseRunID(name string) (int, error) {
	id, err := strconv.Atoi(name)
	if err != nil || id <= 0 || strconv.Itoa(id) != name {
		return 0, &InvalidRunIdentifier{Name: name}
	}
	return id, nil
}
