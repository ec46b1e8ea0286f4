package knowledge

import (
	"html"
	"regexp"
	"sort"
	"strings"
)

// Citation 检索片段引用
type Citation struct {
	Text     string  `json:"text"`
	FileName string  `json:"fileName"`
	Score    float64 `json:"score"`
}

// 高亮标记
const (
	MarkOpen  = "<mark>"
	MarkClose = "</mark>"
)

var (
	sentenceRe    = regexp.MustCompile(`[^.!?。！？\n]+[.!?。！？]*`)
	unicodeWordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

type span struct {
	start, end int
}

// Highlight 在原文中用<mark>标出所有引用片段，其余文本做HTML转义
func Highlight(text string, citations []Citation) string {
	var spans []span
	for _, c := range citations {
		needle := strings.TrimSpace(c.Text)
		if needle == "" {
			continue
		}
		for offset := 0; offset < len(text); {
			idx := strings.Index(text[offset:], needle)
			if idx < 0 {
				break
			}
			start := offset + idx
			spans = append(spans, span{start: start, end: start + len(needle)})
			offset = start + len(needle)
		}
	}
	if len(spans) == 0 {
		return html.EscapeString(text)
	}

	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})
	merged := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}

	var builder strings.Builder
	builder.Grow(len(text) + len(merged)*(len(MarkOpen)+len(MarkClose)))
	cursor := 0
	for _, s := range merged {
		builder.WriteString(html.EscapeString(text[cursor:s.start]))
		builder.WriteString(MarkOpen)
		builder.WriteString(html.EscapeString(text[s.start:s.end]))
		builder.WriteString(MarkClose)
		cursor = s.end
	}
	builder.WriteString(html.EscapeString(text[cursor:]))
	return builder.String()
}

// BestSentence 返回与查询词重合最多的句子，无重合时返回空串
func BestSentence(text, query string) string {
	queryTokens := toTokenSet(query)
	if len(queryTokens) == 0 {
		return ""
	}

	best := ""
	bestScore := 0
	for _, sentence := range sentenceRe.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		score := tokenOverlapScore(queryTokens, sentence)
		if score > bestScore {
			bestScore = score
			best = sentence
		}
	}
	return best
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
