package llm

import (
	"regexp"
	"strings"
)

var (
	closedThinking = regexp.MustCompile(`(?s)<think>.*?</think>`)
	openThinking   = regexp.MustCompile(`(?s)<think>.*$`)
	greedyObject   = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON 从模型输出中提取第一个 JSON 对象。
//
// 先剥离 <think> 推理片段（未闭合的片段吞掉剩余全部文本），再从第一个 '{'
// 开始按括号深度扫描，字符串内的括号与转义字符不计入深度。平衡的候选片段
// 即使无法解析也原样返回，交由调用方判断；找不到平衡片段时退化为最宽的
// 贪婪匹配，否则返回去除空白后的文本。
func ExtractJSON(text string) string {
	text = closedThinking.ReplaceAllString(text, "")
	text = openThinking.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}

	if candidate, ok := balancedObject(text[start:]); ok {
		return candidate
	}

	if match := greedyObject.FindString(text); match != "" {
		return match
	}
	return text
}

// balancedObject 返回 s 开头的平衡对象，s 必须以 '{' 开头。
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
