package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Translate TranslateConfig `json:"translate"`
	Router    RouterConfig    `json:"router,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Janitor   JanitorConfig   `json:"janitor,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite group registry.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// TranslateConfig configures the provider chain.
//
// The primary provider is used when both Provider and APIKey are set;
// otherwise the chain starts at the offline dictionary fallback.
type TranslateConfig struct {
	Provider string `json:"provider,omitempty"` // "deepl"
	APIKey   string `json:"api_key,omitempty"`

	LLM LLMConfig `json:"llm,omitempty"`

	// RetryMax is attempts per provider (default 3).
	RetryMax int `json:"retry_max,omitempty"`
	// RetryBase is the first backoff delay, a Go duration string (default "2s").
	RetryBase string `json:"retry_base,omitempty"`
	// Timeout is the per-HTTP-call timeout (default "10s").
	Timeout string `json:"timeout,omitempty"`
	// MaxRunes caps delivered translations (default 4000).
	MaxRunes int `json:"max_runes,omitempty"`
}

// LLMConfig configures the OpenAI-compatible fallback tier.
// The tier is enabled when APIKey is set.
type LLMConfig struct {
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`  // default "https://api.openai.com/v1"
	Endpoint string `json:"endpoint,omitempty"`  // overrides base_url + "/chat/completions"
	Model    string `json:"model,omitempty"`     // default "gpt-4o-mini"
}

type RouterConfig struct {
	// SkipPrefix marks messages that must never be translated (default "/notranslate").
	SkipPrefix string `json:"skip_prefix,omitempty"`
}

type BroadcastConfig struct {
	// Concurrency bounds in-flight deliveries (default 10).
	Concurrency int `json:"concurrency,omitempty"`
	// RetryMax is extra attempts after the first for transient failures (default 2).
	RetryMax int `json:"retry_max,omitempty"`
	// SendPause is the pacing interval between deliveries, a Go duration
	// string (default "50ms").
	SendPause string `json:"send_pause,omitempty"`
	// MaxPerHour limits jobs per non-privileged actor in a rolling hour (default 5).
	MaxPerHour int `json:"max_per_hour,omitempty"`
	// MaxGroups caps destinations per job (default 500).
	MaxGroups int `json:"max_groups,omitempty"`
}

// JanitorConfig controls the periodic destination verification sweep.
type JanitorConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression (default "0 4 * * *").
	Schedule string `json:"schedule,omitempty"`
}
