package taskdetect

import (
	"strings"

	"github.com/tsawler/prose/v3"

	"driftwatch/internal/features"
	"driftwatch/internal/types"
)

func lower(s string) string { return strings.ToLower(s) }

func domainOf(e types.Event) string { return features.DomainOf(e) }

// matchRatio is the fraction of values containing any of the patterns.
// Values and patterns are expected lowercased.
func matchRatio(values, patterns []string) float64 {
	if len(values) == 0 || len(patterns) == 0 {
		return 0
	}
	matched := 0
	for _, v := range values {
		for _, p := range patterns {
			if strings.Contains(v, p) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(values))
}

// keywordPairRatio is matched (text, keyword) pairs over all checked pairs,
// scaled and clamped. Used where texts are sparse relative to keywords.
func keywordPairRatio(texts, keywords []string, scale float64) float64 {
	if len(texts) == 0 || len(keywords) == 0 {
		return 0
	}
	matched, checked := 0, 0
	for _, t := range texts {
		for _, kw := range keywords {
			checked++
			if strings.Contains(t, kw) {
				matched++
			}
		}
	}
	return clamp01(float64(matched) / float64(checked) * scale)
}

// tokenize splits sampled page text into a lowercase token set using prose.
// Falls back to whitespace splitting if the document fails to parse.
func tokenize(text string) map[string]bool {
	set := make(map[string]bool)
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false))
	if err != nil {
		for _, f := range strings.Fields(text) {
			set[strings.ToLower(f)] = true
		}
		return set
	}
	for _, tok := range doc.Tokens() {
		set[strings.ToLower(tok.Text)] = true
	}
	return set
}

// containsKeyword checks single-word keywords against the token set (word
// boundaries: "art" must not match "startup") and phrases against the raw
// text
func containsKeyword(tokens map[string]bool, text, kw string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(text, kw)
	}
	return tokens[kw]
}
