// internal/services/dialogue_extractor.go
package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// DialoguePlaceholder 所有解析策略都失败时展示给玩家的文本
const DialoguePlaceholder = "I'm having trouble finding the right words..."

var (
	parenDialoguePattern     = regexp.MustCompile(`\(dialogue:\s*([^)]+)\)`)
	quotedDialoguePattern    = regexp.MustCompile(`"dialogue"\s*:\s*"((?:[^"\\]|\\.)+)"`)
	bareDialoguePattern      = regexp.MustCompile(`(?i)dialogue:\s*(.+?)(?:\n|$|internal_monologue)`)
	monologueDialoguePattern = regexp.MustCompile(`(?is)internal_monologue:.*?dialogue:\s*(.+?)(?:\}|$)`)
	structuralMarkerPattern  = regexp.MustCompile(`(?i)internal_monologue|dialogue"?\s*:`)
)

// extractStrategy 一种解析方式；返回空串表示未命中
type extractStrategy struct {
	name string
	fn   func(text string) string
}

// extractionChain 按优先级排列
var extractionChain = []extractStrategy{
	{"json", extractFromJSON},
	{"parenthesized", func(text string) string { return firstGroup(parenDialoguePattern, text) }},
	{"quoted", extractQuoted},
	{"bare", func(text string) string { return strings.Trim(firstGroup(bareDialoguePattern, text), "\", ") }},
	{"after_monologue", func(text string) string { return strings.Trim(firstGroup(monologueDialoguePattern, text), "\", \n") }},
	{"split", extractBySplit},
	{"plain", extractPlain},
}

// DialogueExtractor 把回复生成器的输出规整为一条对白文本，丢弃内心独白。
// 对任何输入都返回非空字符串。
type DialogueExtractor struct {
	logger *utils.Logger
}

func NewDialogueExtractor() *DialogueExtractor {
	return &DialogueExtractor{logger: utils.GetLogger()}
}

// Extract 结构化载荷直接取 Dialogue 字段，否则按 extractionChain 依次尝试原文
func (e *DialogueExtractor) Extract(payload models.ReplyPayload) string {
	if d := strings.TrimSpace(payload.Dialogue); d != "" {
		return d
	}
	return e.ExtractText(payload.Raw)
}

// ExtractText 解析松散格式的模型文本
func (e *DialogueExtractor) ExtractText(raw string) string {
	text := strings.TrimSpace(stripInvisible(raw))
	if text == "" {
		return DialoguePlaceholder
	}

	for _, strategy := range extractionChain {
		if d := strings.TrimSpace(strategy.fn(text)); d != "" {
			if strategy.name != "json" && e.logger != nil {
				e.logger.Debug("Dialogue extracted from loose output", map[string]interface{}{
					"strategy": strategy.name,
				})
			}
			return d
		}
	}

	if e.logger != nil {
		e.logger.Warn("Could not extract dialogue from model output", map[string]interface{}{
			"length": len(text),
		})
	}
	return DialoguePlaceholder
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func extractFromJSON(text string) string {
	obj, ok := extractJSONObject(text)
	if !ok {
		return ""
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return ""
	}
	d, _ := parsed["dialogue"].(string)
	return d
}

func extractQuoted(text string) string {
	group := firstGroup(quotedDialoguePattern, text)
	if group == "" {
		return ""
	}
	var unquoted string
	if err := json.Unmarshal([]byte(`"`+group+`"`), &unquoted); err == nil {
		return unquoted
	}
	return group
}

func extractBySplit(text string) string {
	idx := strings.Index(strings.ToLower(text), "dialogue:")
	if idx == -1 {
		return ""
	}
	rest := text[idx+len("dialogue:"):]
	if end := strings.IndexAny(rest, "}\n"); end != -1 {
		rest = rest[:end]
	}
	return strings.Trim(rest, "\", \t")
}

// extractPlain 没有任何结构标记时整段文本即对白。
// 只有 internal_monologue 或带冒号的 dialogue 字段才算标记，正文里的 "dialogue" 一词不算。
func extractPlain(text string) string {
	if structuralMarkerPattern.MatchString(text) {
		return ""
	}
	return text
}
