package chunk

import (
	"strings"
	"unicode"
)

// scoreQuality computes the information density and coherence scores for a
// chunk, both in [0,1].
//
// Density rewards vocabulary variety and substance: the unique-term ratio
// and the non-stopword share, damped for very short spans that carry
// little information regardless of variety.
//
// Coherence rewards sentence completeness: the share of sentences that
// start like a sentence and end with terminal punctuation.
func scoreQuality(text string) (density, coherence float64) {
	return scoreDensity(text), scoreCoherence(text)
}

func scoreDensity(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	unique := make(map[string]struct{}, len(words))
	content := 0
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ".,;:!?()[]{}\"'"))
		if lw == "" {
			continue
		}
		unique[lw] = struct{}{}
		if !stopwords[lw] {
			content++
		}
	}

	uniqueRatio := float64(len(unique)) / float64(len(words))
	contentRatio := float64(content) / float64(len(words))

	// Spans under ~25 words rarely stand alone; scale down linearly.
	lengthFactor := float64(len(words)) / 25.0
	if lengthFactor > 1 {
		lengthFactor = 1
	}

	return clamp01((0.5*uniqueRatio + 0.5*contentRatio) * lengthFactor)
}

func scoreCoherence(text string) float64 {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return 0
	}

	complete := 0
	for _, s := range sentences {
		if sentenceComplete(s) {
			complete++
		}
	}
	return clamp01(float64(complete) / float64(len(sentences)))
}

// splitSentences performs a rough sentence split on terminal punctuation
// and line breaks. Good enough for scoring; not a linguistic segmenter.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func sentenceComplete(s string) bool {
	runes := []rune(s)
	if len(runes) < 3 {
		return false
	}

	first := runes[0]
	startsWell := unicode.IsUpper(first) || unicode.IsNumber(first) ||
		first == '#' || first == '-' || first == '*'

	last := runes[len(runes)-1]
	endsWell := last == '.' || last == '!' || last == '?' || last == ':'

	return startsWell && endsWell
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
