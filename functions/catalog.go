package functions

import (
	"fmt"
	"log/slog"

	"github.com/najoast/praas/core"
)

// Catalog maps a module name and an entry point to a handler.
type Catalog map[string]map[string]core.Handler

// Register adds handler under module and entry point.
func (c Catalog) Register(module, entryPoint string, handler core.Handler) error {
	if handler == nil {
		return fmt.Errorf("register %s.%s: nil handler", module, entryPoint)
	}
	entries, ok := c[module]
	if !ok {
		entries = make(map[string]core.Handler)
		c[module] = entries
	}
	if _, exists := entries[entryPoint]; exists {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateEntryPoint, module, entryPoint)
	}
	entries[entryPoint] = handler
	return nil
}

// MustRegister is Register for package initialization.
func (c Catalog) MustRegister(module, entryPoint string, handler core.Handler) {
	if err := c.Register(module, entryPoint, handler); err != nil {
		panic(err)
	}
}

// Resolve finds the handler for a manifest entry.
func (c Catalog) Resolve(fn Function) (core.Handler, error) {
	entries, ok := c[fn.Module]
	if !ok {
		return nil, &LoadError{Function: fn.Name, Err: fmt.Errorf("%w: %q", ErrUnknownModule, fn.Module)}
	}
	handler, ok := entries[fn.EntryPoint]
	if !ok {
		return nil, &LoadError{Function: fn.Name, Err: fmt.Errorf("%w: %q in %q", ErrUnknownEntryPoint, fn.EntryPoint, fn.Module)}
	}
	return handler, nil
}

type loadOptions struct {
	logger   *slog.Logger
	language string
}

// LoadOption adjusts LoadRegistry.
type LoadOption func(*loadOptions)

// WithLogger sets the logger reporting skipped sections.
func WithLogger(logger *slog.Logger) LoadOption {
	return func(o *loadOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// LoadRegistry resolves every function of the go section of m against
// catalog. Sections for other languages are skipped.
func LoadRegistry(m *Manifest, catalog Catalog, opts ...LoadOption) (*core.Registry, error) {
	o := loadOptions{logger: slog.Default(), language: LanguageGo}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "functions")

	for _, lang := range m.Languages() {
		if lang != o.language {
			logger.Info("skipping manifest section", "language", lang, "functions", len(m.Functions[lang]))
		}
	}

	entries, err := m.Entries(o.language)
	if err != nil {
		return nil, err
	}

	handlers := make(map[string]core.Handler, len(entries))
	for _, fn := range entries {
		handler, err := catalog.Resolve(fn)
		if err != nil {
			return nil, err
		}
		handlers[fn.Name] = handler
		logger.Debug("function loaded", "function", fn.Name, "module", fn.Module, "entry_point", fn.EntryPoint)
	}
	return core.NewRegistry(handlers), nil
}

// LoadFile reads the manifest at path and resolves it against catalog.
func LoadFile(path, codeLocation string, catalog Catalog, opts ...LoadOption) (*core.Registry, error) {
	m, err := LoadManifest(path, codeLocation)
	if err != nil {
		return nil, err
	}
	return LoadRegistry(m, catalog, opts...)
}
