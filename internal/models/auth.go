package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/neorix/internal/config"
)

// AuthKind distinguishes between API key and Bearer token auth.
type AuthKind int

const (
	AuthAPIKey AuthKind = iota
	AuthBearerToken
	AuthNone
)

// ResolvedAuth holds the resolved credentials and their kind.
type ResolvedAuth struct {
	Kind  AuthKind
	Value string
}

// driverEnvKeys lists, per driver, the environment variables tried in order.
// API_KEY is the variable the hosted web client reads.
var driverEnvKeys = map[string][]string{
	"gemini":      {"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"},
	"gemini-eino": {"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"},
	"openai":      {"OPENAI_API_KEY"},
	"anthropic":   {"ANTHROPIC_API_KEY"},
	"mistral":     {"MISTRAL_API_KEY"},
}

// ResolveAuth resolves the credentials for a provider.
// Resolution order: direct token → direct api_key → driver default env.
// Drivers that authenticate out of band (vertex uses ADC, ollama none) get AuthNone.
func ResolveAuth(cfg config.ProviderConfig) (ResolvedAuth, error) {
	resolve := func(token string) string {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			return ""
		}
		if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
			return os.Getenv(trimmed[2 : len(trimmed)-1])
		}
		return trimmed
	}

	if token := resolve(cfg.Auth.Token); token != "" {
		return ResolvedAuth{Kind: AuthBearerToken, Value: token}, nil
	}

	if apiKey := resolve(cfg.Auth.APIKey); apiKey != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: apiKey}, nil
	}

	driver := strings.ToLower(cfg.Driver)
	switch driver {
	case "vertex", "ollama":
		return ResolvedAuth{Kind: AuthNone}, nil
	}

	keys, ok := driverEnvKeys[driver]
	if !ok {
		return ResolvedAuth{}, fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: v}, nil
		}
	}
	return ResolvedAuth{}, fmt.Errorf("%w: %s not set", ErrNoCredentials, strings.Join(keys, ", "))
}
