package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
profiles:
  - name: writing
    description: Long-form writing days
    focus_keywords: [Google Docs, Scrivener, "reference PDFs"]
    distraction_keywords: [Twitter, YouTube]
  - name: coding
    description: Programming
    focus_keywords: [terminal, IDE, GitHub]
    distraction_keywords: [Reddit]
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	r, err := Load("/nonexistent/path/that/does/not/exist.yaml")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Empty(t, r.All())
	assert.Empty(t, r.Names())
}

func TestLoadValidYAML(t *testing.T) {
	r, err := Load(writeProfiles(t, sampleYAML))
	require.NoError(t, err)

	// All() preserves definition order, Names() sorts
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "writing", all[0].Name)
	assert.Equal(t, "coding", all[1].Name)
	assert.Equal(t, []string{"coding", "writing"}, r.Names())

	p, ok := r.Get("coding")
	require.True(t, ok)
	assert.Equal(t, []string{"terminal", "IDE", "GitHub"}, p.FocusKeywords)

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
}

func TestLoadInvalidYAML(t *testing.T) {
	r, err := Load(writeProfiles(t, ":\tinvalid:\tyaml:\t[unclosed"))
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestParseRejectsBadProfiles(t *testing.T) {
	_, err := Parse([]byte("profiles:\n  - description: nameless\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = Parse([]byte("profiles:\n  - name: a\n  - name: a\n"))
	assert.ErrorContains(t, err, "duplicate")
}

func TestKeywords(t *testing.T) {
	r, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	focus, distraction := r.Keywords("coding", []string{"github", "Linear", " "}, nil)
	assert.Equal(t, []string{"github", "Linear", "terminal", "IDE"}, focus)
	assert.Equal(t, []string{"Reddit"}, distraction)

	focus, distraction = r.Keywords("missing", []string{"a", "A"}, []string{"b"})
	assert.Equal(t, []string{"a"}, focus)
	assert.Equal(t, []string{"b"}, distraction)

	var nilRegistry *Registry
	focus, _ = nilRegistry.Keywords("coding", []string{"x"}, nil)
	assert.Equal(t, []string{"x"}, focus)
}
