package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func reassemble(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Content)
	}
	return b.String()
}

func TestSplitReconstructsInput(t *testing.T) {
	inputs := []string{
		"こんにちは。これは音声合成システムのテストです。今日はいい天気ですね、散歩にでも行きましょうか。",
		"Hello world. This is a test of the synthesis pipeline, which should split cleanly at punctuation marks.",
		"short",
		"句読点なしの長い文章がどこまでも続いていく場合でも正しく分割されなければならない",
	}
	for _, input := range inputs {
		segments := Split(input, 20)
		if got := reassemble(segments); got != input {
			t.Fatalf("reconstruction mismatch:\n in: %q\nout: %q", input, got)
		}
	}
}

func TestSplitLengthBound(t *testing.T) {
	input := strings.Repeat("あいうえお。かきくけこ、", 40)
	for _, maxRunes := range []int{10, 37, 100} {
		for _, seg := range Split(input, maxRunes) {
			if n := utf8.RuneCountInString(seg.Content); n > maxRunes {
				t.Fatalf("segment %d exceeds bound %d: %d runes", seg.Index, maxRunes, n)
			}
		}
	}
}

func TestSplitPrefersPunctuationBoundary(t *testing.T) {
	input := "一二三四五。六七八九十"
	segments := Split(input, 8)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Content != "一二三四五。" {
		t.Fatalf("expected split after 。, got %q", segments[0].Content)
	}
}

func TestSplitForcedWithoutBoundary(t *testing.T) {
	// 250 runes, no punctuation: ceil(250/100) = 3 forced segments.
	input := strings.Repeat("あ", 250)
	segments := Split(input, 100)
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	wantLens := []int{100, 100, 50}
	for i, seg := range segments {
		if n := utf8.RuneCountInString(seg.Content); n != wantLens[i] {
			t.Fatalf("segment %d: expected %d runes, got %d", i, wantLens[i], n)
		}
	}
	if got := reassemble(segments); got != input {
		t.Fatal("forced split lost content")
	}
}

func TestSplitShortTextSingleSegment(t *testing.T) {
	segments := Split("こんにちは。", 100)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if !segments[0].Final {
		t.Fatal("single segment must be final")
	}
	if segments[0].Index != 0 {
		t.Fatalf("expected index 0, got %d", segments[0].Index)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	segments := Split("", 100)
	if len(segments) != 1 {
		t.Fatalf("expected 1 degenerate segment, got %d", len(segments))
	}
	if segments[0].Content != "" || !segments[0].Final {
		t.Fatalf("expected empty final segment, got %+v", segments[0])
	}
}

func TestSplitDeterministic(t *testing.T) {
	input := strings.Repeat("今日は晴れ。明日は雨、明後日は雪かもしれない。", 12)
	first := Split(input, 50)
	second := Split(input, 50)
	if len(first) != len(second) {
		t.Fatalf("segment count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("segment %d differs between runs", i)
		}
	}
}

func TestSplitIndicesOrdered(t *testing.T) {
	input := strings.Repeat("a", 500)
	segments := Split(input, 64)
	for i, seg := range segments {
		if seg.Index != i {
			t.Fatalf("expected index %d, got %d", i, seg.Index)
		}
		if seg.Final != (i == len(segments)-1) {
			t.Fatalf("final flag wrong at index %d", i)
		}
	}
}
