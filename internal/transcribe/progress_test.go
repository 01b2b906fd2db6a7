package transcribe

import (
	"errors"
	"testing"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

func TestParseEnginePercent(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"whisper_print_progress_callback: progress =  15%", 15, true},
		{"progress = 100%", 100, true},
		{"progress = 0%", 0, true},
		{"progress = 42", 42, true},
		{"[00:00:00.000 --> 00:00:05.000]  text", 0, false},
		{"whisper_init_state: compute buffer", 0, false},
		{"progress = lots%", 0, false},
		{"progress = -5%", 0, false},
		{"progress = 150%", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseEnginePercent(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseEnginePercent(%q) = (%v, %v), want (%v, %v)", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseSegmentEnd(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[00:01:30.500 --> 00:02:00.250]   hello world", 120.25, true},
		{"[00:00.000 --> 00:10.000]  short form", 10, true},
		{"[00:00:01,500 --> 00:00:02,750] comma millis", 2.75, true},
		{"plain text line", 0, false},
		{"[not a timestamp]", 0, false},
		{"[00:00:01.000 -> 00:00:02.000] wrong arrow", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseSegmentEnd(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseSegmentEnd(%q) = (%v, %v), want (%v, %v)", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHeuristicPercentCapsBelowCompletion(t *testing.T) {
	if got := heuristicPercent(100, 100); got != 99 {
		t.Errorf("full-length segment = %v, want capped 99", got)
	}
	if got := heuristicPercent(250, 100); got != 99 {
		t.Errorf("overshoot = %v, want capped 99", got)
	}
	if got := heuristicPercent(25, 100); got != 25 {
		t.Errorf("quarter = %v, want 25", got)
	}
	if got := heuristicPercent(10, 0); got != 0 {
		t.Errorf("unknown duration = %v, want 0", got)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"txt":   FormatText,
		"SRT":   FormatSRT,
		" vtt ": FormatVTT,
	} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = (%v, %v), want %v", in, got, err, want)
		}
	}

	if _, err := ParseFormat("docx"); !errors.Is(err, domain.ErrInvalidArguments) {
		t.Errorf("ParseFormat(docx) err = %v, want ErrInvalidArguments", err)
	}
}
