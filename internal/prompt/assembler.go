// Package prompt assembles the turn sequence sent to the language model:
// the persona system turn, an optional grounding-context system turn,
// bounded conversation history, and the current user message last.
package prompt

import (
	"fmt"
	"strings"

	"github.com/beaconai/beacon/internal/knowledge"
	"github.com/beaconai/beacon/internal/llm"
	"github.com/beaconai/beacon/internal/thread"
)

// DefaultHistoryLimit caps how many prior messages enter the prompt before
// the token budget is applied.
const DefaultHistoryLimit = 10

// DefaultSystemPrompt is used when no persona is configured.
const DefaultSystemPrompt = "You are a helpful, concise assistant. " +
	"Answer from the provided context when it is relevant; otherwise answer from general knowledge."

const contextHeader = "Use the following reference passages when they help answer the question. " +
	"Do not mention the passages themselves.\n\n"

// Config tunes the assembler. Zero values fall back to package defaults.
type Config struct {
	SystemPrompt string
	HistoryLimit int
	MaxTokens    int
}

// Assembler builds prompts. It is stateless and safe for concurrent use.
type Assembler struct {
	systemPrompt string
	historyLimit int
	maxTokens    int
}

// New creates an Assembler.
func New(cfg Config) *Assembler {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxPromptTokens
	}
	return &Assembler{
		systemPrompt: cfg.SystemPrompt,
		historyLimit: cfg.HistoryLimit,
		maxTokens:    cfg.MaxTokens,
	}
}

// Assemble builds the turn sequence for one generation. History arrives in
// chronological order; only the most recent turns within the history limit
// are considered, and the token budget may drop more, oldest first. The
// system turns and the user message always survive.
func (a *Assembler) Assemble(history []*thread.Message, context []knowledge.Result, userText string) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history)+3)
	turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: a.systemPrompt})

	if block := FormatContext(context); block != "" {
		turns = append(turns, llm.Turn{Role: llm.RoleSystem, Content: block})
	}

	recent := history
	if len(recent) > a.historyLimit {
		recent = recent[len(recent)-a.historyLimit:]
	}
	for _, m := range recent {
		turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
	}

	turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: userText})
	return fitBudget(turns, a.maxTokens)
}

// FormatContext renders retrieved passages as a single system block. Empty
// input yields an empty string, meaning no context turn is added.
func FormatContext(results []knowledge.Result) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s", i+1, strings.TrimSpace(r.Text))
		if r.Source != "" {
			fmt.Fprintf(&b, " (source: %s)", r.Source)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
