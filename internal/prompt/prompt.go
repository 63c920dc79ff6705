// Package prompt assembles the instruction text sent to the model on every
// turn: a fixed header describing the permitted actions and output contract,
// a dataset-context appendix, and the run transcript so far.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rowanlabs/rowan/internal/protocol"
)

const (
	defaultMaxHistoryItems = 40
	defaultMaxItemLen      = 4000
)

const header = `You are Rowan, an expert data/compute agent. On each turn choose exactly ONE of these actions and return ONLY JSON:
- run_julia: execute Julia code for calculations or data processing.
  {"action":"run_julia","args":{"code":"...","user_message":"<short explanation for the user>"}}
  Always use println() so results are captured, e.g. println("Result: ", result).
  If you produce a table, write result.parquet in the working directory.
- shell: run an allow-listed, read-only command like ls or git status.
  {"action":"shell","args":{"cmd":"...","timeout_secs":null,"user_message":"<short explanation>"}}
- more_from_user: ask one concise clarifying question.
  {"action":"more_from_user","args":{"question":"<question>"}}
- final: provide the complete answer after executing code.
  {"action":"final","user_output":"<your complete answer to the user>"}

Rules:
- ALWAYS use run_julia for calculations or data questions; never skip straight to final.
- Return a single valid JSON object, no prose outside it.
- user_message is MANDATORY on run_julia and shell; a decision without it is rejected.
- The working directory is the sandboxed run directory; do not traverse outside it.
- Tool results from previous turns arrive in the tool context; use them to self-correct.
- If Julia code fails, read the error in the tool context, fix the code, and retry.
- If a package is missing, add it first: using Pkg; Pkg.add("Name"); using Name.
- Avoid destructive shell commands; only allow-listed read-only commands run at all.
- shell lines must be one plain command; pipes, chaining, substitution, and redirection are rejected.
- After a successful execution, use final to deliver the answer.`

// Builder assembles per-turn prompts. The zero value uses sane truncation
// bounds.
type Builder struct {
	// MaxHistoryItems bounds how many transcript entries are included;
	// older entries are summarized by count.
	MaxHistoryItems int
	// MaxItemLen bounds each included entry; longer entries keep their tail,
	// where errors usually are.
	MaxItemLen int
}

// HistoryItem is one transcript entry: role is "user", "assistant", or "tool".
type HistoryItem struct {
	Role    string
	Content string
}

// System returns the instructional header, the decision schema, and the
// dataset-context appendix. It never embeds credentials or file contents
// beyond the catalog summaries.
func (b Builder) System(datasets []string) string {
	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n\n=== Decision schema ===\n")
	sb.WriteString(protocol.DecisionSchema())
	if len(datasets) > 0 {
		sb.WriteString("\n\n=== Available datasets ===\n")
		for _, ds := range datasets {
			sb.WriteString("  - ")
			sb.WriteString(ds)
			sb.WriteString("\n")
		}
		sb.WriteString("Query these files from Julia; paths are relative to the data directory.\n")
	} else {
		sb.WriteString("\n\nNo registered datasets found; you may construct sample data in Julia, but say so in user_message.\n")
	}
	return sb.String()
}

// Transcript renders the per-turn model input: the run transcript plus the
// most recent tool outcome as JSON context. The system text from System goes
// into the request's instructions field, so it is not repeated here.
func (b Builder) Transcript(history []HistoryItem, toolContext string) string {
	maxItems := b.MaxHistoryItems
	if maxItems <= 0 {
		maxItems = defaultMaxHistoryItems
	}
	maxLen := b.MaxItemLen
	if maxLen <= 0 {
		maxLen = defaultMaxItemLen
	}

	var sb strings.Builder
	sb.WriteString("--- Transcript ---\n")
	if dropped := len(history) - maxItems; dropped > 0 {
		fmt.Fprintf(&sb, "[%d earlier entries elided]\n", dropped)
		history = history[dropped:]
	}
	for _, item := range history {
		content := item.Content
		if len(content) > maxLen {
			// Keep the tail, advancing to a rune boundary so the cut never
			// produces invalid UTF-8.
			start := len(content) - maxLen
			for start < len(content) && !utf8.RuneStart(content[start]) {
				start++
			}
			content = "…" + content[start:]
		}
		fmt.Fprintf(&sb, "[%s] %s\n", item.Role, content)
	}
	sb.WriteString("\n--- Tool context ---\n")
	if toolContext == "" {
		toolContext = "{}"
	}
	sb.WriteString(toolContext)
	sb.WriteString("\n--- End ---\n")
	return sb.String()
}
