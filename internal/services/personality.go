// internal/services/personality.go
package services

import "strings"

// PersonalityCategory 回退回复与初次见面问候所使用的人设分类
type PersonalityCategory string

const (
	CategoryShy        PersonalityCategory = "shy"
	CategoryWise       PersonalityCategory = "wise"
	CategoryCheerful   PersonalityCategory = "cheerful"
	CategoryMysterious PersonalityCategory = "mysterious"
	CategoryDefault    PersonalityCategory = "default"
)

// categoryRules 按优先级排列，第一个命中的分类生效
var categoryRules = []struct {
	category PersonalityCategory
	keywords []string
}{
	{CategoryShy, []string{"shy", "bashful"}},
	{CategoryWise, []string{"wise", "ancient", "old"}},
	{CategoryCheerful, []string{"cheerful", "excited", "happy"}},
	{CategoryMysterious, []string{"mysterious", "secret", "enigmatic"}},
}

// InferCategory 对人设提示词做子串扫描得到分类。
// 这是一个简单的启发式规则，不是可靠的分类器：
// "old" 也会命中 "bold"、"gold"。
func InferCategory(prompt string) PersonalityCategory {
	text := strings.ToLower(prompt)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.category
			}
		}
	}
	return CategoryDefault
}
