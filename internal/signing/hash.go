package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ignoredDirs are never included in the content hash.
var ignoredDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
}

// TreeContentHash computes the deterministic SHA-256 hash over the sorted
// relative-path + content pairs of the plugin tree. The manifest file is
// excluded so the hash stays stable across sign/verify cycles.
func TreeContentHash(rootPath, manifestPath string) (string, error) {
	absManifest, _ := filepath.Abs(manifestPath)

	type entry struct {
		rel  string
		path string
	}
	var entries []entry
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		abs, _ := filepath.Abs(path)
		if abs == absManifest {
			return nil
		}
		rel, relErr := filepath.Rel(rootPath, path)
		if relErr != nil {
			return relErr
		}
		entries = append(entries, entry{rel: filepath.ToSlash(rel), path: path})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk plugin tree %s: %w", rootPath, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	h := sha256.New()
	for _, e := range entries {
		content, readErr := os.ReadFile(e.path)
		if readErr != nil {
			return "", fmt.Errorf("failed to read %s: %w", e.rel, readErr)
		}
		h.Write([]byte(e.rel))
		h.Write([]byte{0})
		h.Write(content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
