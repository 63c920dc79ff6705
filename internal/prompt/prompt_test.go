package prompt

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSystem_WithDatasets(t *testing.T) {
	b := Builder{}
	out := b.System([]string{"Sales (sales.csv): monthly sales - 120 rows, 5 columns"})
	if !strings.Contains(out, "sales.csv") {
		t.Error("dataset summary missing from system text")
	}
	if !strings.Contains(out, "=== Available datasets ===") {
		t.Error("dataset appendix header missing")
	}
	if !strings.Contains(out, "run_julia") {
		t.Error("action contract missing from system text")
	}
	if !strings.Contains(out, "=== Decision schema ===") {
		t.Error("decision schema missing from system text")
	}
}

func TestSystem_NoDatasets(t *testing.T) {
	out := Builder{}.System(nil)
	if !strings.Contains(out, "No registered datasets found") {
		t.Error("empty-catalog notice missing")
	}
}

func TestSystem_NeverEmbedsKeys(t *testing.T) {
	// The system text is assembled only from the fixed header, the schema,
	// and catalog summaries. A key-shaped string must never appear unless a
	// caller put one into a summary, which the catalog does not.
	out := Builder{}.System([]string{"Orders (orders.csv): order lines - 10 rows, 3 columns"})
	if strings.Contains(out, "sk-") {
		t.Error("system text contains a key-shaped string")
	}
}

func TestTranscript_RendersRolesAndToolContext(t *testing.T) {
	history := []HistoryItem{
		{Role: "user", Content: "what is 2+2?"},
		{Role: "assistant", Content: `{"action":"run_julia"}`},
		{Role: "tool", Content: "run_julia -> 4"},
	}
	out := Builder{}.Transcript(history, `{"ok":true,"stdout":"4\n"}`)
	for _, want := range []string{"[user] what is 2+2?", "[tool] run_julia -> 4", "--- Tool context ---", `"stdout":"4\n"`} {
		if !strings.Contains(out, want) {
			t.Errorf("transcript missing %q", want)
		}
	}
}

func TestTranscript_EmptyToolContextDefaults(t *testing.T) {
	out := Builder{}.Transcript(nil, "")
	if !strings.Contains(out, "--- Tool context ---\n{}") {
		t.Error("empty tool context should render {}")
	}
}

func TestTranscript_ElidesOldEntries(t *testing.T) {
	b := Builder{MaxHistoryItems: 3}
	var history []HistoryItem
	for i := 0; i < 10; i++ {
		history = append(history, HistoryItem{Role: "user", Content: fmt.Sprintf("entry %d", i)})
	}
	out := b.Transcript(history, "")
	if !strings.Contains(out, "[7 earlier entries elided]") {
		t.Errorf("elision marker missing:\n%s", out)
	}
	if strings.Contains(out, "entry 0") {
		t.Error("elided entry still present")
	}
	if !strings.Contains(out, "entry 9") {
		t.Error("newest entry missing")
	}
}

func TestTranscript_TruncationKeepsRunesIntact(t *testing.T) {
	b := Builder{MaxItemLen: 5}
	// Two-byte runes with an odd cut point force the naive slice to land
	// mid-rune.
	out := b.Transcript([]HistoryItem{{Role: "user", Content: strings.Repeat("é", 20)}}, "")
	if !utf8.ValidString(out) {
		t.Errorf("transcript contains invalid UTF-8: %q", out)
	}
	if !strings.Contains(out, "é") {
		t.Error("tail runes lost entirely")
	}
}

func TestTranscript_TruncatesLongEntriesKeepingTail(t *testing.T) {
	b := Builder{MaxItemLen: 20}
	long := strings.Repeat("x", 100) + "ERROR AT END"
	out := b.Transcript([]HistoryItem{{Role: "tool", Content: long}}, "")
	if !strings.Contains(out, "ERROR AT END") {
		t.Error("tail of truncated entry lost")
	}
	if strings.Count(out, "x") > 20 {
		t.Error("entry not truncated")
	}
}
