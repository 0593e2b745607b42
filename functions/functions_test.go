package functions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/praas/core"
)

const jsonManifest = `{
  "functions": {
    "go": {
      "add": {
        "code": {"module": "math", "function": "Add"},
        "trigger": {"type": "direct"}
      },
      "power": {
        "code": {"module": "math", "function": "Power"},
        "trigger": {"type": "direct"}
      }
    },
    "python": {
      "hello_world": {
        "code": {"module": "hello", "function": "hello_world"},
        "trigger": {"type": "direct"}
      }
    }
  }
}`

const yamlManifest = `
functions:
  go:
    add:
      code:
        module: math
        function: Add
      trigger:
        type: direct
`

func noop(code int) core.Handler {
	return core.HandlerFunc(func(context.Context, *core.Invocation, *core.Context) (core.Status, error) {
		return core.Code(code), nil
	})
}

func testCatalog(t *testing.T) Catalog {
	t.Helper()
	catalog := Catalog{}
	require.NoError(t, catalog.Register("math", "Add", noop(0)))
	require.NoError(t, catalog.Register("math", "Power", noop(0)))
	return catalog
}

func TestParseManifestJSON(t *testing.T) {
	m, err := ParseManifest([]byte(jsonManifest))
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "python"}, m.Languages())

	entries, err := m.Entries(LanguageGo)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Function{Name: "add", Language: "go", Module: "math", EntryPoint: "Add", Trigger: TriggerDirect}, entries[0])
	assert.Equal(t, "power", entries[1].Name)
}

func TestParseManifestYAML(t *testing.T) {
	m, err := ParseManifest([]byte(yamlManifest))
	require.NoError(t, err)

	entries, err := m.Entries(LanguageGo)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Add", entries[0].EntryPoint)
}

func TestParseManifestErrors(t *testing.T) {
	_, err := ParseManifest([]byte(`{"functions": `))
	assert.ErrorIs(t, err, ErrInvalidManifest)

	_, err = ParseManifest([]byte(`{"other": {}}`))
	assert.ErrorIs(t, err, ErrInvalidManifest)

	_, err = ParseManifest([]byte("functions: [1, 2"))
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestEntriesValidation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     error
	}{
		{
			name:     "unsupported trigger",
			manifest: `{"functions": {"go": {"f": {"code": {"module": "m", "function": "F"}, "trigger": {"type": "http"}}}}}`,
			want:     ErrUnsupportedTrigger,
		},
		{
			name:     "missing trigger",
			manifest: `{"functions": {"go": {"f": {"code": {"module": "m", "function": "F"}}}}}`,
			want:     ErrInvalidManifest,
		},
		{
			name:     "missing code",
			manifest: `{"functions": {"go": {"f": {"trigger": {"type": "direct"}}}}}`,
			want:     ErrInvalidManifest,
		},
		{
			name:     "missing language",
			manifest: `{"functions": {"cpp": {}}}`,
			want:     ErrLanguageMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.manifest))
			require.NoError(t, err)
			_, err = m.Entries(LanguageGo)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadRegistry(t *testing.T) {
	m, err := ParseManifest([]byte(jsonManifest))
	require.NoError(t, err)

	registry, err := LoadRegistry(m, testCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"add", "power"}, registry.Names())

	_, ok := registry.Lookup("hello_world")
	assert.False(t, ok, "python section must not be loaded")
}

func TestLoadRegistryResolutionErrors(t *testing.T) {
	m, err := ParseManifest([]byte(jsonManifest))
	require.NoError(t, err)

	_, err = LoadRegistry(m, Catalog{})
	assert.ErrorIs(t, err, ErrUnknownModule)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "add", loadErr.Function)

	partial := Catalog{}
	require.NoError(t, partial.Register("math", "Add", noop(0)))
	_, err = LoadRegistry(m, partial)
	assert.ErrorIs(t, err, ErrUnknownEntryPoint)
	assert.Contains(t, err.Error(), `"power"`)
}

func TestCatalogRegister(t *testing.T) {
	catalog := Catalog{}
	require.NoError(t, catalog.Register("m", "F", noop(0)))
	assert.ErrorIs(t, catalog.Register("m", "F", noop(1)), ErrDuplicateEntryPoint)
	assert.Error(t, catalog.Register("m", "G", nil))
	assert.Panics(t, func() { catalog.MustRegister("m", "F", noop(2)) })
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "functions.yaml"), []byte(yamlManifest), 0o644))

	registry, err := LoadFile("functions.yaml", dir, testCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())

	_, err = LoadFile(filepath.Join(dir, "missing.json"), "", testCatalog(t))
	assert.Error(t, err)
}
