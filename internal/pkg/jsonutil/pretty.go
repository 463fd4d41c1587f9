// Package jsonutil 提供 JSON 文本的辅助处理。
package jsonutil

import (
	"encoding/json"
	"strings"
)

// Pretty 把 JSON 文本重排为缩进形态，解析失败时原样返回。
func Pretty(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(buf)
}
