// Package testutil holds helpers that enforce package boundaries in tests.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
)

// Violation is one forbidden import found in a source file.
type Violation struct {
	File   string
	Import string
}

// AssertNoDirectImports scans the non-test .go files in dir and fails t for
// every import that forbidden matches. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := DirectImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	for _, v := range viols {
		t.Errorf("%s imports %s: %s", v.File, v.Import, reason)
	}
}

// DirectImportViolations lists forbidden imports in dir, sorted by file.
func DirectImportViolations(dir string, forbidden func(importPath string) bool) ([]Violation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var out []Violation
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				continue
			}
			if forbidden(path) {
				out = append(out, Violation{File: name, Import: path})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Import < out[j].Import
	})
	return out, nil
}

// InternalImportForbidden matches any path under an internal/ tree.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

// AdapterImportForbidden matches the outer layers: HTTP, messaging and process wiring.
func AdapterImportForbidden(path string) bool {
	for _, p := range []string{"/internal/adapters", "/internal/platform", "/internal/app", "/cmd/"} {
		if strings.Contains(path, p) {
			return true
		}
	}
	return strings.HasPrefix(path, "github.com/go-chi/") || strings.HasPrefix(path, "github.com/segmentio/kafka-go")
}
