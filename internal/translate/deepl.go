package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	deeplEndpoint     = "https://api.deepl.com/v2/translate"
	deeplFreeEndpoint = "https://api-free.deepl.com/v2/translate"
)

// DeepL is the primary HTTP translation provider.
type DeepL struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// NewDeepL builds a DeepL client. Keys issued for the free tier end in
// ":fx" and must hit the free API host.
func NewDeepL(apiKey string, timeout time.Duration) *DeepL {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	endpoint := deeplEndpoint
	if strings.HasSuffix(apiKey, ":fx") {
		endpoint = deeplFreeEndpoint
	}
	return &DeepL{
		apiKey:   apiKey,
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (d *DeepL) Name() string { return ProviderDeepL }

func (d *DeepL) Translate(ctx context.Context, text string, source, target Lang) (string, error) {
	form := url.Values{}
	form.Set("auth_key", d.apiKey)
	form.Set("text", text)
	tgt := target
	if tgt == "" {
		tgt = EN
	}
	form.Set("target_lang", strings.ToUpper(string(tgt)))
	if source != "" {
		form.Set("source_lang", strings.ToUpper(string(source)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &ProviderError{Provider: ProviderDeepL, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: ProviderDeepL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Provider: ProviderDeepL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &ProviderError{Provider: ProviderDeepL, Err: err}
	}
	if len(body.Translations) == 0 {
		return "", &ProviderError{Provider: ProviderDeepL, Err: fmt.Errorf("empty translations array")}
	}
	return strings.TrimSpace(body.Translations[0].Text), nil
}
