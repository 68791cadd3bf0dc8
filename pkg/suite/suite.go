// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package suite parses the suite JSON file that describes the build and
// test scenarios a solution is run against, and applies the documented
// defaults. It follows this codebase's mgrconfig pattern: a tagged struct
// parsed with encoding/json, followed by a Complete-style defaulting pass.
package suite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Defaults, per the suite JSON schema.
const (
	DefaultUser              = "root"
	DefaultPassword          = "root"
	DefaultSSHTimeoutMs      = 20000
	DefaultPoweroffTimeoutMs = 20000
	DefaultPoweroffCommand   = "/sbin/poweroff"
	DefaultRetries           = 3
	DefaultStepTimeoutMs     = 5000
)

// StepType identifies which Guest Session primitive a Step dispatches to.
type StepType string

const (
	StepFileTransfer  StepType = "file_transfer"
	StepPatchTransfer StepType = "patch_transfer"
	StepCommand       StepType = "command"
)

// Step is one unit of work executed against a live Guest Session.
type Step struct {
	Type      StepType `json:"type"`
	From      string   `json:"from,omitempty"`
	To        string   `json:"to,omitempty"`
	Command   string   `json:"command,omitempty"`
	TimeoutMs *int     `json:"timeout_ms,omitempty"`
}

// Name renders a short human-readable label for logs and failure reports.
func (s Step) Name() string {
	switch s.Type {
	case StepFileTransfer:
		return fmt.Sprintf("file_transfer(%s -> %s)", s.From, s.To)
	case StepPatchTransfer:
		return fmt.Sprintf("patch_transfer(%s)", s.To)
	case StepCommand:
		return fmt.Sprintf("command(%s)", s.Command)
	default:
		return fmt.Sprintf("unknown(%s)", s.Type)
	}
}

// Validate checks that a Step carries the fields its Type requires.
func (s Step) Validate() error {
	switch s.Type {
	case StepFileTransfer:
		if s.From == "" || s.To == "" {
			return fmt.Errorf("file_transfer step requires from and to")
		}
	case StepPatchTransfer:
		if s.To == "" {
			return fmt.Errorf("patch_transfer step requires to")
		}
	case StepCommand:
		if s.Command == "" {
			return fmt.Errorf("command step requires command")
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// Phase is a maximal sequence of steps executed on a single VM boot.
type Phase []Step

// Scenario is a named unit of work: an ordered list of phases, plus a retry
// budget. A nil Retries means "use the suite default", distinguished from
// an explicit 0.
type Scenario struct {
	Retries *int    `json:"retries,omitempty"`
	Steps   []Phase `json:"steps"`
}

// Phases returns the scenario's ordered phases.
func (s Scenario) Phases() []Phase {
	return s.Steps
}

// EffectiveRetries resolves the scenario's retry budget against the suite default.
func (s Scenario) EffectiveRetries(suiteDefault int) int {
	if s.Retries == nil {
		return suiteDefault
	}
	return *s.Retries
}

// UnlimitedOutput is the sentinel EffectiveOutputLimit returns when the
// suite leaves output_limit unset, as opposed to an explicit 0.
const UnlimitedOutput = -1

// EffectiveOutputLimit resolves OutputLimit to the sentinel TruncatedBuffer
// understands: UnlimitedOutput when unset, or the configured byte cap
// (possibly 0) otherwise.
func (s *Suite) EffectiveOutputLimit() int {
	if s.OutputLimit == nil {
		return UnlimitedOutput
	}
	return *s.OutputLimit
}

// Suite is the parsed, defaulted suite configuration.
type Suite struct {
	User               string              `json:"user,omitempty"`
	Password           string              `json:"password,omitempty"`
	SSHTimeoutMs       int                 `json:"ssh_timeout_ms,omitempty"`
	PoweroffTimeoutMs  int                 `json:"poweroff_timeout_ms,omitempty"`
	PoweroffCommand    string              `json:"poweroff_command,omitempty"`
	Retries            int                 `json:"retries,omitempty"`
	StepTimeoutMs      int                 `json:"step_timeout_ms,omitempty"`
	Build              *Scenario           `json:"build,omitempty"`
	Tests              map[string]Scenario `json:"tests"`

	// OutputLimit caps captured stdout/stderr per step, in bytes. nil means
	// unset (unlimited); an explicit 0 caps captured output at zero bytes
	// without altering the step verdict, per the documented boundary
	// behavior. Mirrors the Scenario.Retries unset-vs-zero distinction.
	OutputLimit *int `json:"output_limit,omitempty"`

	// TestNames preserves the order in which `tests` keys were encountered
	// in the source JSON, since Go map iteration order is not stable and the
	// spec requires deterministic failed-test ordering in the CSV output.
	TestNames []string `json:"-"`

	// Dir is the suite file's parent directory, used to resolve relative
	// file_transfer paths. Empty when the suite was parsed from raw bytes
	// with no associated file.
	Dir string `json:"-"`
}

// Parse parses suite JSON data and applies documented defaults. dir is used
// to resolve relative file_transfer paths and may be empty.
func Parse(data []byte, dir string) (*Suite, error) {
	s := &Suite{
		User:              DefaultUser,
		Password:          DefaultPassword,
		SSHTimeoutMs:      DefaultSSHTimeoutMs,
		PoweroffTimeoutMs: DefaultPoweroffTimeoutMs,
		PoweroffCommand:   DefaultPoweroffCommand,
		Retries:           DefaultRetries,
		StepTimeoutMs:     DefaultStepTimeoutMs,
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	s.Dir = dir
	s.TestNames = orderedTestNames(data)
	if err := s.complete(); err != nil {
		return nil, err
	}
	return s, nil
}

// complete validates required fields and resolves relative paths.
func (s *Suite) complete() error {
	if len(s.Tests) == 0 {
		return fmt.Errorf("suite must define at least one test scenario")
	}
	resolve := func(p Phase) error {
		for i := range p {
			st := &p[i]
			if err := st.Validate(); err != nil {
				return err
			}
			if st.Type == StepFileTransfer {
				st.From = s.resolvePath(st.From)
				st.To = s.resolvePath(st.To)
			}
		}
		return nil
	}
	if s.Build != nil {
		for _, p := range s.Build.Phases() {
			if err := resolve(p); err != nil {
				return fmt.Errorf("build scenario: %w", err)
			}
		}
	}
	for name, sc := range s.Tests {
		for _, p := range sc.Phases() {
			if err := resolve(p); err != nil {
				return fmt.Errorf("test scenario %q: %w", name, err)
			}
		}
	}
	return nil
}

func (s *Suite) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || s.Dir == "" {
		return p
	}
	return filepath.Join(s.Dir, p)
}

// orderedTestNames does a best-effort scan of the raw JSON to recover the
// source order of the "tests" object's keys, since encoding/json discards
// it when unmarshaling into a Go map.
func orderedTestNames(data []byte) []string {
	var probe struct {
		Tests json.RawMessage `json:"tests"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || len(probe.Tests) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(probe.Tests))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}
	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return names
		}
		key, ok := tok.(string)
		if !ok {
			return names
		}
		names = append(names, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return names
		}
	}
	return names
}
