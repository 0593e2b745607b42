// Package functions resolves a function manifest into a core.Registry.
//
// A manifest names, per language, each function a process serves together
// with the module and entry point implementing it and the trigger that
// starts it:
//
//	{"functions": {"go": {"add": {
//	    "code": {"module": "examples", "function": "Add"},
//	    "trigger": {"type": "direct"}}}}}
//
// Go has no portable dynamic loading, so modules are looked up in a
// Catalog compiled into the binary.
package functions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LanguageGo is the only language section a Go process serves.
const LanguageGo = "go"

// TriggerType says how a function is started.
type TriggerType string

const (
	// TriggerDirect functions run when invoked by name.
	TriggerDirect TriggerType = "direct"
)

// Manifest is the parsed function configuration.
type Manifest struct {
	Functions map[string]map[string]FunctionSpec `json:"functions" yaml:"functions"`
}

// FunctionSpec is one manifest entry.
type FunctionSpec struct {
	Code    *CodeRef `json:"code" yaml:"code"`
	Trigger *Trigger `json:"trigger" yaml:"trigger"`
}

// CodeRef locates the implementation of a function.
type CodeRef struct {
	Module   string `json:"module" yaml:"module"`
	Function string `json:"function" yaml:"function"`
}

// Trigger configures how a function is started.
type Trigger struct {
	Type TriggerType `json:"type" yaml:"type"`
}

// Function is a validated manifest entry.
type Function struct {
	Name       string
	Language   string
	Module     string
	EntryPoint string
	Trigger    TriggerType
}

// ParseManifest decodes a JSON or YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
		}
	} else if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if m.Functions == nil {
		return nil, fmt.Errorf("%w: missing functions section", ErrInvalidManifest)
	}
	return &m, nil
}

// LoadManifest reads and parses the manifest at path. A relative path is
// resolved against codeLocation when one is given.
func LoadManifest(path, codeLocation string) (*Manifest, error) {
	if !filepath.IsAbs(path) && codeLocation != "" {
		path = filepath.Join(codeLocation, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Languages returns the language sections present, sorted.
func (m *Manifest) Languages() []string {
	langs := make([]string, 0, len(m.Functions))
	for lang := range m.Functions {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Entries validates and returns the functions of one language, sorted by
// name.
func (m *Manifest) Entries(language string) ([]Function, error) {
	section, ok := m.Functions[language]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrLanguageMissing, language)
	}

	names := make([]string, 0, len(section))
	for name := range section {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Function, 0, len(names))
	for _, name := range names {
		spec := section[name]
		if spec.Trigger == nil {
			return nil, &LoadError{Function: name, Err: fmt.Errorf("%w: missing trigger", ErrInvalidManifest)}
		}
		if trigger := TriggerType(strings.ToLower(string(spec.Trigger.Type))); trigger != TriggerDirect {
			return nil, &LoadError{Function: name, Err: fmt.Errorf("%w %q", ErrUnsupportedTrigger, spec.Trigger.Type)}
		}
		if spec.Code == nil || spec.Code.Module == "" || spec.Code.Function == "" {
			return nil, &LoadError{Function: name, Err: fmt.Errorf("%w: missing code module or function", ErrInvalidManifest)}
		}
		entries = append(entries, Function{
			Name:       name,
			Language:   language,
			Module:     spec.Code.Module,
			EntryPoint: spec.Code.Function,
			Trigger:    TriggerDirect,
		})
	}
	return entries, nil
}
