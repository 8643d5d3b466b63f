// internal/services/json_cleanup.go
package services

import (
	"strings"
	"unicode"
)

// 模型输出中常见的噪声：Markdown 代码块、BOM、特殊空白
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```JSON", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'﹕': ':',
	'，': ',',
	'﹐': ',',
	'｛': '{',
	'｝': '}',
}

// 左引号 -> 对应的右引号
var quotePairs = map[rune]rune{
	'“': '”',
	'„': '”',
	'‟': '”',
	'＂': '＂',
}

// stripInvisible 移除零宽字符及除换行/制表符外的控制字符
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// normalizeJSONStructure 把字符串外的全角标点与弯引号替换为 ASCII
func normalizeJSONStructure(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))
	inString := false
	escaped := false
	closing := '"'

	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == closing || r == '"':
				inString = false
				closing = '"'
				builder.WriteRune('"')
				continue
			}
			builder.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			r = replacement
		} else if c, ok := quotePairs[r]; ok {
			inString = true
			closing = c
			builder.WriteRune('"')
			continue
		} else if r == '"' {
			inString = true
			closing = '"'
		}
		builder.WriteRune(r)
	}

	return builder.String()
}

// extractJSONObject 返回文本中第一个括号配平的 JSON 对象；找不到时 ok 为 false
func extractJSONObject(s string) (string, bool) {
	s = stripInvisible(jsonNoiseReplacer.Replace(s))

	start := strings.IndexAny(s, "{｛")
	if start == -1 {
		return "", false
	}
	s = normalizeJSONStructure(strings.TrimSpace(s[start:]))

	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			balance++
		case '}':
			balance--
			if balance == 0 {
				return s[:i+1], true
			}
		}
	}

	// 未配平时退回到最后一个 }
	if end := strings.LastIndex(s, "}"); end > 0 {
		return s[:end+1], true
	}
	return "", false
}
