package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultLLMBaseURL = "https://api.openai.com/v1"
	defaultLLMModel   = "gpt-4o-mini"

	llmSystemPrompt = "You are a professional translation engine. " +
		"Translate the user's text to the target language directly. " +
		"Do not output any explanations, notes, or extra text. " +
		"If the text is already in the target language or consists only of emojis/numbers, return it as is."
)

// LLMConfig configures the OpenAI-compatible fallback provider.
type LLMConfig struct {
	APIKey   string
	BaseURL  string
	Endpoint string // overrides BaseURL+"/chat/completions" when set
	Model    string
	Timeout  time.Duration
}

// LLM is the secondary provider: a chat-completions call against any
// OpenAI-compatible endpoint.
type LLM struct {
	cfg  LLMConfig
	http *http.Client
}

func NewLLM(cfg LLMConfig) *LLM {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultLLMBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultLLMModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &LLM{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (l *LLM) Name() string { return ProviderLLM }

func (l *LLM) Translate(ctx context.Context, text string, source, target Lang) (string, error) {
	if l.cfg.APIKey == "" {
		return "", &ProviderError{Provider: ProviderLLM, Err: fmt.Errorf("api key is not set")}
	}

	prompt := llmSystemPrompt
	if target != "" {
		prompt += " Target Language: " + strings.ToUpper(string(target)) + "."
	} else {
		prompt += " Detect language automatically. If Chinese -> English; If English -> Chinese."
	}

	payload := map[string]any{
		"model": l.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": prompt},
			{"role": "user", "content": text},
		},
		// Slight flexibility for better fluency.
		"temperature": 0.3,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", &ProviderError{Provider: ProviderLLM, Err: err}
	}

	endpoint := l.cfg.Endpoint
	if endpoint == "" {
		endpoint = strings.TrimRight(l.cfg.BaseURL, "/") + "/chat/completions"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", &ProviderError{Provider: ProviderLLM, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: ProviderLLM, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Provider: ProviderLLM, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &ProviderError{Provider: ProviderLLM, Err: err}
	}
	if len(body.Choices) == 0 {
		return "", &ProviderError{Provider: ProviderLLM, Err: fmt.Errorf("empty choices array")}
	}
	return strings.TrimSpace(body.Choices[0].Message.Content), nil
}
