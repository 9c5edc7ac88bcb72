package prompt

import (
	"unicode/utf8"

	"github.com/beaconai/beacon/internal/llm"
)

// DefaultMaxPromptTokens bounds the assembled prompt when no budget is
// configured.
const DefaultMaxPromptTokens = 4096

// EstimateTokens approximates the token count of a text. Four characters
// per token is the usual rule of thumb for English prose; exactness is not
// required, the budget only has to keep prompts within the model window.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return n/4 + 1
}

// turnTokens includes a small per-turn overhead for role framing.
func turnTokens(t llm.Turn) int {
	return EstimateTokens(t.Content) + 4
}

// fitBudget drops history turns oldest first until the prompt estimate fits
// within maxTokens. The leading system turns and the final user turn are
// never dropped, so a prompt can exceed the budget when those alone do.
func fitBudget(turns []llm.Turn, maxTokens int) []llm.Turn {
	if maxTokens <= 0 {
		return turns
	}

	total := 0
	for _, t := range turns {
		total += turnTokens(t)
	}
	if total <= maxTokens {
		return turns
	}

	// History sits between the system turns and the trailing user turn.
	first := 0
	for first < len(turns) && turns[first].Role == llm.RoleSystem {
		first++
	}
	last := len(turns) - 1

	for i := first; i < last && total > maxTokens; i++ {
		total -= turnTokens(turns[i])
		first = i + 1
	}

	fitted := make([]llm.Turn, 0, len(turns))
	for i, t := range turns {
		if t.Role == llm.RoleSystem || i >= first {
			fitted = append(fitted, t)
		}
	}
	return fitted
}
