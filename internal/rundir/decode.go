package rundir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"observer-migrate/internal/shared/model"
)

// TimeLayout 观察者写入的时间格式（无时区，UTC）
const TimeLayout = "2006-01-02T15:04:05.999999"

// ParseTime 解析观察者时间字符串，结果截断到毫秒（与 BSON datetime 精度一致）
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.Truncate(time.Millisecond), nil
}

// decodeJSON 严格解码单个 JSON 值
//
// 数字以 json.Number 解码，随后由 normalizeNumbers 转为 int64 或 float64，
// 避免整数配置项在数据库中变成浮点数。
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(sanitizeNonFinite(data)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

// decodeMapping 解码 JSON 对象为 map
func decodeMapping(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := decodeJSON(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("expected a JSON object, got null")
	}
	return normalizeMap(m), nil
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeNumbers(v)
	}
	return m
}

// normalizeNumbers 递归地将 json.Number 转为 int64（整数）或 float64
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		return normalizeMap(x)
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	default:
		return v
	}
}

// metricFile metrics.json 中单个指标的结构
type metricFile struct {
	Steps      []int64   `json:"steps"`
	Timestamps []string  `json:"timestamps"`
	Values     []pyFloat `json:"values"`
}

// decodeMetrics 解析 metrics.json
//
// 三个数组长度必须一致；采样点保持文件中的顺序，不按步数或数值重新排序。
// 返回的序列按指标名称升序。
func decodeMetrics(data []byte) ([]Series, error) {
	var raw map[string]metricFile
	if err := json.Unmarshal(sanitizeNonFinite(data), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("expected a JSON object, got null")
	}

	series := make([]Series, 0, len(raw))
	for _, name := range sortedKeys(raw) {
		m := raw[name]
		n := len(m.Steps)
		if len(m.Values) != n || len(m.Timestamps) != n {
			return nil, fmt.Errorf("metric %q: steps/timestamps/values length mismatch (%d/%d/%d)",
				name, n, len(m.Timestamps), len(m.Values))
		}
		s := Series{Name: name}
		for i := 0; i < n; i++ {
			ts, err := ParseTime(m.Timestamps[i])
			if err != nil {
				return nil, fmt.Errorf("metric %q sample %d: %w", name, i, err)
			}
			s.Samples = append(s.Samples, model.MetricSample{Step: m.Steps[i], Timestamp: ts, Value: float64(m.Values[i])})
		}
		series = append(series, s)
	}
	return series, nil
}
