package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// UnsealEnv replaces every sealed environment variable with its plaintext. The identity
// at keyPath is only read when at least one sealed value is present. It returns the
// names of the variables it opened.
func UnsealEnv(keyPath string) ([]string, error) {
	var sealed []string
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && IsSealed(value) {
			sealed = append(sealed, key)
		}
	}
	if len(sealed) == 0 {
		return nil, nil
	}

	kr, err := OpenKeyring(keyPath)
	if err != nil {
		return nil, fmt.Errorf("unseal env: %w", err)
	}

	var opened []string
	for _, key := range sealed {
		plain, err := kr.Open(os.Getenv(key))
		if err != nil {
			// Leave the variable sealed: the provider reports bad credentials on first send.
			slog.Warn("cannot unseal env var", "key", key, "error", err)
			continue
		}
		os.Setenv(key, plain)
		opened = append(opened, key)
	}
	return opened, nil
}
