package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

// Secret holds a credential. Every printing and marshaling path redacts it;
// convert to string explicitly to use the value.
type Secret string

// IsSet reports whether the secret has a non-blank value
func (s Secret) IsSet() bool {
	return strings.TrimSpace(string(s)) != ""
}

func (s Secret) redact() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string   { return s.redact() }
func (s Secret) GoString() string { return `"` + s.redact() + `"` }

// Hint identifies a key in logs by its last four characters
func (s Secret) Hint() string {
	if len(s) <= 8 {
		return s.redact()
	}
	return "..." + string(s[len(s)-4:])
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return s.redact(), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// UnmarshalYAML trims whitespace left around ${VAR} expansions
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = Secret(strings.TrimSpace(raw))
	return nil
}
