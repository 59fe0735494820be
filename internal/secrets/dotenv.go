package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SetEntry stores KEY=VALUE in the .env file at path. An existing assignment of key,
// with or without "export ", is replaced where it stands; otherwise the entry is
// appended. Other lines are kept as they are.
func SetEntry(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read dotenv: %w", err)
	}

	var lines []string
	if text := strings.TrimRight(string(data), "\n"); text != "" {
		lines = strings.Split(text, "\n")
	}

	entry := key + "=" + quoteValue(value)
	if i := slices.IndexFunc(lines, func(l string) bool { return assigns(l, key) }); i >= 0 {
		lines[i] = entry
	} else {
		lines = append(lines, entry)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dotenv dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return fmt.Errorf("write dotenv: %w", err)
	}
	return nil
}

// assigns reports whether line is an assignment of key.
func assigns(line, key string) bool {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "#") {
		return false
	}
	k, _, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
	return ok && strings.TrimSpace(k) == key
}

// quoteValue double-quotes values containing whitespace, quotes, backslashes, '#' or '$'.
func quoteValue(v string) string {
	if !strings.ContainsAny(v, " \t\"'\\#$") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}
