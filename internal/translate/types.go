package translate

import "fmt"

// Lang is a translation direction endpoint. An empty Lang as source means
// "let the provider auto-detect".
type Lang string

const (
	EN Lang = "en"
	ZH Lang = "zh"
)

// Provider names reported in Result.Provider.
const (
	ProviderDeepL   = "deepl"
	ProviderLLM     = "llm"
	ProviderOffline = "offline"
)

// Result is the chain's ephemeral outcome for one text.
type Result struct {
	Text     string
	Provider string
	Accepted bool
}

// ProviderError is a failed provider call. The chain retries these
// internally and escalates to the next tier when retries exhaust; it never
// reaches the routing engine.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
