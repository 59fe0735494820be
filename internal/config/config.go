package config

import "time"

// Config is the root configuration for Neorix.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Models  ModelsConfig  `json:"models"`
	Events  EventsConfig  `json:"events"`
	Archive ArchiveConfig `json:"archive"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single hosted model provider.
type ProviderConfig struct {
	Driver     string            `json:"driver"` // "gemini", "vertex", "gemini-eino", "openai", "mistral", "ollama", "anthropic"
	Model      string            `json:"model,omitempty"`
	ModeModels map[string]string `json:"mode_models,omitempty"` // mode id -> model id
	BaseURL    string            `json:"base_url,omitempty"`
	Auth       AuthConfig        `json:"auth"`
	MaxTokens  int               `json:"max_tokens,omitempty"`
	Timeout    Duration          `json:"timeout,omitempty"`
	Options    map[string]any    `json:"options,omitempty"`

	// MaxConcurrent caps concurrent streams on this provider; 0 means unlimited.
	MaxConcurrent int `json:"max_concurrent,omitempty"`

	// Vertex AI only.
	Project  string `json:"project,omitempty"`
	Location string `json:"location,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key, ${VAR} or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty"`   // Bearer token
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogLevel   string `json:"log_level"`
}

// ArchiveConfig controls transcript archiving. Live chat sessions are never restored from it.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"` // "jsonl" or "sqlite"
	Dir     string `json:"dir"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
