package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTokenSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")

	src := NewFileTokenSource(path)
	_, ok := src.Token()
	assert.False(t, ok, "missing file means logged out")

	require.NoError(t, os.WriteFile(path, []byte("secret\n"), 0o600))
	assert.True(t, src.Reload(), "login is a transition")
	tok, ok := src.Token()
	assert.True(t, ok)
	assert.Equal(t, "secret", tok)

	require.NoError(t, os.WriteFile(path, []byte("rotated"), 0o600))
	assert.False(t, src.Reload(), "rotation keeps the authenticated state")
	tok, _ = src.Token()
	assert.Equal(t, "rotated", tok)

	require.NoError(t, os.Remove(path))
	assert.True(t, src.Reload(), "logout is a transition")
	_, ok = src.Token()
	assert.False(t, ok)
}

func TestStaticTokenSource(t *testing.T) {
	tok, ok := StaticTokenSource("x").Token()
	assert.True(t, ok)
	assert.Equal(t, "x", tok)

	_, ok = StaticTokenSource("").Token()
	assert.False(t, ok)
}
