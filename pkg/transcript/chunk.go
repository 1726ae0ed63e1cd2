package transcript

import "strings"

// SplitSentences breaks generated text at sentence boundaries so
// synthesis of the first sentence can start before the rest of the
// response exists. Fragments shorter than minLen are merged into the
// following sentence to avoid stuttery one-word clips.
func SplitSentences(text string, minLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if minLen <= 0 {
		minLen = 8
	}
	var out []string
	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		if isSentenceEnd(r) {
			candidate := strings.TrimSpace(sb.String())
			if len(candidate) >= minLen {
				out = append(out, candidate)
				sb.Reset()
			}
		}
	}
	if rest := strings.TrimSpace(sb.String()); rest != "" {
		if len(rest) < minLen && len(out) > 0 {
			out[len(out)-1] = out[len(out)-1] + " " + rest
		} else {
			out = append(out, rest)
		}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	default:
		return false
	}
}
