// Package modes holds the fixed set of assistant modes and their configurations.
//
// The catalog is embedded at build time and decoded once; every lookup returns a copy,
// so configurations cannot be changed at runtime.
package modes

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode identifies an assistant profile.
type Mode string

const (
	General       Mode = "general"
	Coding        Mode = "coding"
	Fast          Mode = "fast"
	International Mode = "international"
)

// Config is the per-mode record handed to the hosted model service.
type Config struct {
	Mode        Mode    `yaml:"id" json:"mode"`
	Name        string  `yaml:"name" json:"name"`
	Instruction string  `yaml:"instruction" json:"instruction"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
}

type messages struct {
	Greeting    string `yaml:"greeting"`
	ModeChanged string `yaml:"mode_changed"`
	Error       string `yaml:"error"`
}

type catalogFile struct {
	Modes    []Config `yaml:"modes"`
	Messages messages `yaml:"messages"`
}

//go:embed catalog.yaml
var catalogYAML []byte

var (
	order   = []Mode{General, Coding, Fast, International}
	configs map[Mode]Config
	texts   messages
)

func init() {
	c, err := parseCatalog(catalogYAML)
	if err != nil {
		panic(fmt.Sprintf("modes: embedded catalog: %v", err))
	}
	configs = make(map[Mode]Config, len(c.Modes))
	for _, m := range c.Modes {
		configs[m.Mode] = m
	}
	texts = c.Messages
}

// parseCatalog decodes and validates a catalog: exactly one entry per known mode,
// temperatures within [0,1].
func parseCatalog(data []byte) (*catalogFile, error) {
	var c catalogFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	seen := make(map[Mode]bool, len(c.Modes))
	for i := range c.Modes {
		m := &c.Modes[i]
		if !m.Mode.Valid() {
			return nil, fmt.Errorf("unknown mode %q", m.Mode)
		}
		if seen[m.Mode] {
			return nil, fmt.Errorf("duplicate mode %q", m.Mode)
		}
		seen[m.Mode] = true
		if m.Model == "" {
			return nil, fmt.Errorf("mode %q: model is required", m.Mode)
		}
		if m.Temperature < 0 || m.Temperature > 1 {
			return nil, fmt.Errorf("mode %q: temperature %v out of [0,1]", m.Mode, m.Temperature)
		}
		m.Instruction = strings.TrimSpace(m.Instruction)
	}
	for _, m := range order {
		if !seen[m] {
			return nil, fmt.Errorf("mode %q missing", m)
		}
	}
	return &c, nil
}

// Valid reports whether m belongs to the enumeration.
func (m Mode) Valid() bool {
	switch m {
	case General, Coding, Fast, International:
		return true
	}
	return false
}

func (m Mode) String() string { return string(m) }

// Parse converts user input into a Mode.
func Parse(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q (want one of %s)", s, strings.Join(Names(), ", "))
	}
	return m, nil
}

// All returns the modes in presentation order.
func All() []Mode {
	out := make([]Mode, len(order))
	copy(out, order)
	return out
}

// Names returns the mode identifiers in presentation order.
func Names() []string {
	out := make([]string, len(order))
	for i, m := range order {
		out[i] = string(m)
	}
	return out
}

// ConfigFor returns the configuration of m. Unknown values fall back to General.
func ConfigFor(m Mode) Config {
	if c, ok := configs[m]; ok {
		return c
	}
	return configs[General]
}

// DisplayName returns the human-facing name of m.
func DisplayName(m Mode) string {
	return ConfigFor(m).Name
}

// Greeting is the first model message of a new transcript.
func Greeting() string { return texts.Greeting }

// ModeChangedNotice is the model message appended after a mode switch.
func ModeChangedNotice(m Mode) string {
	return fmt.Sprintf(texts.ModeChanged, DisplayName(m))
}

// ErrorNotice is the generic user-facing failure text.
func ErrorNotice() string { return texts.Error }
