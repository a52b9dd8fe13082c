// Package chunker splits input text into bounded segments for synthesis.
//
// Long input is broken at sentence or clause boundaries so that each
// engine call stays within the model's comfortable utterance length.
// Concatenating the segment contents in order reproduces the input
// byte for byte.
package chunker

import "unicode"

// Segment is one bounded slice of the input text.
type Segment struct {
	Index   int
	Content string
	Final   bool
}

// Split breaks text into segments of at most maxRunes runes each.
//
// Split points are chosen at the last boundary rune (punctuation or
// whitespace) within the window; when a window holds no boundary the
// text is force-split at exactly maxRunes. Splitting operates on runes,
// never inside a UTF-8 sequence. Empty input yields a single empty
// final segment; callers that consider empty input an error must
// reject it before chunking.
func Split(text string, maxRunes int) []Segment {
	if maxRunes <= 0 {
		maxRunes = 100
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return []Segment{{Index: 0, Content: "", Final: true}}
	}

	var segments []Segment
	start := 0
	for start < len(runes) {
		remaining := len(runes) - start
		if remaining <= maxRunes {
			segments = append(segments, Segment{
				Index:   len(segments),
				Content: string(runes[start:]),
			})
			break
		}

		cut := -1
		for i := start; i < start+maxRunes; i++ {
			if isBoundary(runes[i]) {
				cut = i + 1
			}
		}
		if cut <= start {
			// No natural boundary in the window.
			cut = start + maxRunes
		}
		segments = append(segments, Segment{
			Index:   len(segments),
			Content: string(runes[start:cut]),
		})
		start = cut
	}

	segments[len(segments)-1].Final = true
	return segments
}

func isBoundary(r rune) bool {
	switch r {
	case '。', '、', '！', '？', '．', '，', '!', '?', '.', ',', '\n':
		return true
	}
	return unicode.IsSpace(r)
}
