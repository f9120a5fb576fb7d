package parser

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// NormalizeModelText 去掉 BOM、非法 UTF-8 和首尾空白
func NormalizeModelText(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return strings.TrimSpace(text)
}

// ExtractFirstJSONArray 返回文本中第一个可解析的平衡 [...] 片段
func ExtractFirstJSONArray(text string) (string, bool) {
	return FindJSONArray(text, nil)
}

// FindJSONArray 按出现顺序尝试每个 '[' 起点，返回第一个能解析为 JSON 数组且满足 accept 的片段
// 返回值已经过清洗，可直接 json.Unmarshal
func FindJSONArray(text string, accept func(elems []json.RawMessage) bool) (string, bool) {
	text = NormalizeModelText(text)
	for start := strings.IndexByte(text, '['); start >= 0; {
		if span, ok := balancedSpan(text, start); ok {
			if cleaned, ok := repairJSON(span); ok {
				var elems []json.RawMessage
				if err := json.Unmarshal([]byte(cleaned), &elems); err == nil {
					if accept == nil || accept(elems) {
						return cleaned, true
					}
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// ExtractFirstJSONObject 返回文本中第一个可解析的平衡 {...} 片段
func ExtractFirstJSONObject(text string) (string, bool) {
	text = NormalizeModelText(text)
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if span, ok := balancedSpan(text, start); ok {
			if cleaned, ok := repairJSON(span); ok {
				var obj map[string]json.RawMessage
				if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
					return cleaned, true
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// IsObjectArray 元素全部是 JSON 对象，空数组也满足
func IsObjectArray(elems []json.RawMessage) bool {
	for _, e := range elems {
		trimmed := strings.TrimSpace(string(e))
		if !strings.HasPrefix(trimmed, "{") {
			return false
		}
	}
	return true
}

// balancedSpan 从 start 处的括号开始扫描，字符串内的括号不计数
// 括号类型不匹配或直到结尾都未闭合时返回 false
func balancedSpan(text string, start int) (string, bool) {
	stack := make([]byte, 0, 8)
	inStr := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}

		switch c {
		case '"':
			inStr = true
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			if len(stack) == 0 {
				return "", false
			}
			open := stack[len(stack)-1]
			if (c == ']' && open != '[') || (c == '}' && open != '{') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// repairJSON 原样可解析则直接返回，否则依次尝试去注释/尾逗号、转义字符串内的裸引号
func repairJSON(src string) (string, bool) {
	if json.Valid([]byte(src)) {
		return src, true
	}
	cleaned := cleanJSON(src)
	if json.Valid([]byte(cleaned)) {
		return cleaned, true
	}
	sanitized := sanitizeJSON(cleaned)
	if json.Valid([]byte(sanitized)) {
		return sanitized, true
	}
	return "", false
}

// cleanJSON 去掉字符串外的 // 行注释和 ] } 之前的尾逗号
func cleanJSON(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]
		if inStr {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}

		switch {
		case c == '"':
			inStr = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				b.WriteByte('\n')
			}
		case c == ',':
			j := i + 1
			for j < len(src) && isJSONSpace(src[j]) {
				j++
			}
			if j < len(src) && (src[j] == ']' || src[j] == '}') {
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// sanitizeJSON 把字符串内部未转义的双引号改成 \"
// 判定规则: 引号后第一个非空白字符是 : , ] } 才视为字符串结束
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		switch {
		case c == '"' && !escaped:
			if !inStr {
				inStr = true
				b.WriteByte(c)
				break
			}
			j := i + 1
			for j < len(src) && isJSONSpace(src[j]) {
				j++
			}
			if j >= len(src) || src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}' {
				inStr = false
				b.WriteByte(c)
			} else {
				b.WriteString("\\\"")
			}
			escaped = false
		case c == '\\' && !escaped:
			escaped = true
			b.WriteByte(c)
		default:
			b.WriteByte(c)
			escaped = false
		}
	}

	return b.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
