package rundir

import (
	"bytes"
	"encoding/json"
	"math"
)

// 观察者用 Python json 写文件，允许非标准常量 NaN / Infinity / -Infinity。
// sanitizeNonFinite 在字符串之外将它们改写为带引号的字符串，使文件能被标准 JSON 解析；
// 指标数值再由 pyFloat 还原为 IEEE 特殊值。
var nonFinite = [][]byte{[]byte("-Infinity"), []byte("Infinity"), []byte("NaN")}

func sanitizeNonFinite(data []byte) []byte {
	if !bytes.Contains(data, []byte("NaN")) && !bytes.Contains(data, []byte("Infinity")) {
		return data
	}
	out := make([]byte, 0, len(data)+16)
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		matched := false
		for _, tok := range nonFinite {
			if bytes.HasPrefix(data[i:], tok) {
				out = append(out, '"')
				out = append(out, tok...)
				out = append(out, '"')
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, c)
		}
	}
	return out
}

// pyFloat 接受 JSON 数字、null（视为 NaN）以及改写后的非有限常量
type pyFloat float64

func (f *pyFloat) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"NaN"`, "null":
		*f = pyFloat(math.NaN())
		return nil
	case `"Infinity"`:
		*f = pyFloat(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*f = pyFloat(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = pyFloat(v)
	return nil
}
