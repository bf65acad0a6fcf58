package signing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestTreeContentHashDeterministic(t *testing.T) {
	files := map[string]string{
		"index.js":    "module.exports = {};",
		"lib/util.js": "exports.noop = () => {};",
	}
	first := writeTree(t, files)
	second := writeTree(t, files)

	hashA, err := TreeContentHash(first, filepath.Join(first, "plugin.json"))
	require.NoError(t, err)
	hashB, err := TreeContentHash(second, filepath.Join(second, "plugin.json"))
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB, "identical trees should hash identically")
	assert.NotEmpty(t, hashA)
}

func TestTreeContentHashDetectsChanges(t *testing.T) {
	root := writeTree(t, map[string]string{"index.js": "module.exports = {};"})
	manifest := filepath.Join(root, "plugin.json")

	before, err := TreeContentHash(root, manifest)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "index.js"), []byte("module.exports = null;"), 0o644))

	after, err := TreeContentHash(root, manifest)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestTreeContentHashExcludesManifest(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.js":    "module.exports = {};",
		"plugin.json": `{"id":"demo"}`,
	})
	manifest := filepath.Join(root, "plugin.json")

	before, err := TreeContentHash(root, manifest)
	require.NoError(t, err)

	// Attaching a signature rewrites the manifest, so the manifest file
	// itself must never influence the hash.
	require.NoError(t, os.WriteFile(manifest, []byte(`{"id":"demo","signature":{}}`), 0o644))

	after, err := TreeContentHash(root, manifest)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTreeContentHashSkipsIgnoredDirectories(t *testing.T) {
	root := writeTree(t, map[string]string{"index.js": "module.exports = {};"})
	manifest := filepath.Join(root, "plugin.json")

	before, err := TreeContentHash(root, manifest)
	require.NoError(t, err)

	for _, dir := range []string{".git", "node_modules", "vendor"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "junk"), []byte("ignored"), 0o644))
	}

	after, err := TreeContentHash(root, manifest)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTreeContentHashMissingRoot(t *testing.T) {
	_, err := TreeContentHash(filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)
}
