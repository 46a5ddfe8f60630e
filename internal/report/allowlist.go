package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Allowlist is the set of known-flaky cases. A mismatch on one of them is
// reported but does not fail the run.
//
//	cases:
//	  - id: "0036"
//	    reason: data race only manifests under load
type Allowlist struct {
	Cases []AllowlistEntry `yaml:"cases"`

	index map[string]AllowlistEntry
}

// AllowlistEntry is one accepted flaky case.
type AllowlistEntry struct {
	ID     string `yaml:"id"`
	Reason string `yaml:"reason,omitempty"`
}

// LoadAllowlist reads an allowlist file.
func LoadAllowlist(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	a, err := ParseAllowlist(data)
	if err != nil {
		return nil, fmt.Errorf("allowlist %s: %w", path, err)
	}
	return a, nil
}

// ParseAllowlist decodes allowlist YAML. Unknown keys are rejected.
func ParseAllowlist(data []byte) (*Allowlist, error) {
	a := &Allowlist{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(a); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	a.index = make(map[string]AllowlistEntry, len(a.Cases))
	for i, e := range a.Cases {
		if e.ID == "" {
			return nil, fmt.Errorf("cases[%d]: id is required", i)
		}
		if _, dup := a.index[e.ID]; dup {
			return nil, fmt.Errorf("cases[%d]: case %s listed twice", i, e.ID)
		}
		a.index[e.ID] = e
	}
	return a, nil
}

// Contains reports whether id is allowlisted. A nil allowlist contains nothing.
func (a *Allowlist) Contains(id string) bool {
	if a == nil {
		return false
	}
	_, ok := a.index[id]
	return ok
}

// Reason returns why id is allowlisted.
func (a *Allowlist) Reason(id string) string {
	if a == nil {
		return ""
	}
	return a.index[id].Reason
}
