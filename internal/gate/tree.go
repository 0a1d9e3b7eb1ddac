package gate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Tree is the set of source files the checks read, keyed by slash-separated
// paths relative to the root.
type Tree struct {
	Root     string
	GoFiles  []string
	SQLFiles []string
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") ||
		name == "testdata" || name == "vendor" || name == "node_modules"
}

func LoadTree(root string) (*Tree, error) {
	t := &Tree{Root: root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch filepath.Ext(path) {
		case ".go":
			t.GoFiles = append(t.GoFiles, rel)
		case ".sql":
			t.SQLFiles = append(t.SQLFiles, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(t.GoFiles)
	sort.Strings(t.SQLFiles)
	return t, nil
}

func (t *Tree) Read(rel string) (string, error) {
	b, err := os.ReadFile(filepath.Join(t.Root, filepath.FromSlash(rel)))
	return string(b), err
}

// PackageFiles lists the non-test Go files directly inside dir.
func (t *Tree) PackageFiles(dir string) []string {
	var out []string
	for _, f := range t.GoFiles {
		if strings.HasSuffix(f, "_test.go") {
			continue
		}
		if filepath.ToSlash(filepath.Dir(f)) == dir {
			out = append(out, f)
		}
	}
	return out
}
