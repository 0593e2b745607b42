package functions

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidManifest     = errors.New("invalid function manifest")
	ErrLanguageMissing     = errors.New("manifest has no section for language")
	ErrUnsupportedTrigger  = errors.New("unsupported trigger type")
	ErrUnknownModule       = errors.New("module not in catalog")
	ErrUnknownEntryPoint   = errors.New("entry point not in module")
	ErrDuplicateEntryPoint = errors.New("entry point already registered")
)

// LoadError reports why a manifest function could not be resolved.
type LoadError struct {
	Function string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("function %q: %v", e.Function, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
