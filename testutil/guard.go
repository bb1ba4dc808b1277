// Package testutil provides test helpers enforcing the layering of the
// repository: the domain contracts stay free of implementations, and the
// replication engine only reaches storage through those contracts.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// ModulePath is the import path prefix of this module.
const ModulePath = "mlsync"

// AssertNoDirectImports fails when a non-test file in dir imports a path
// matching forbidden.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	failIfViolations(t, "direct imports", reason, viols)
}

// AssertNoModuleDependency follows module-local imports of pkg (a directory
// relative to root) transitively and fails when any reached package matches
// forbidden. Third-party and standard library imports are not followed.
func AssertNoModuleDependency(t testing.TB, root, pkg string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := moduleDependencyViolations(root, pkg, forbidden)
	if err != nil {
		t.Fatalf("walk %s: %v", pkg, err)
	}
	failIfViolations(t, "module dependency", reason, viols)
}

// InternalImportForbidden matches any internal package.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// StorageImportForbidden matches concrete storage, network and wiring
// packages, which the engine must only reach through domain interfaces.
func StorageImportForbidden(path string) bool {
	for _, p := range []string{"/internal/infra/", "/internal/multisite", "/internal/app", "/internal/uploads"} {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func imports(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	out := make(map[string][]string)
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
			ip := strings.Trim(imp.Path.Value, `"`)
			out[ip] = append(out[ip], name)
		}
	}
	return out, nil
}

func directImportViolations(dir string, forbidden func(string) bool) ([]string, error) {
	found, err := imports(dir)
	if err != nil {
		return nil, err
	}
	var viols []string
	for ip, files := range found {
		if forbidden(ip) {
			viols = append(viols, fmt.Sprintf("%s (in %s)", ip, strings.Join(files, ", ")))
		}
	}
	sort.Strings(viols)
	return viols, nil
}

func moduleDependencyViolations(root, pkg string, forbidden func(string) bool) ([]string, error) {
	start := ModulePath + "/" + filepath.ToSlash(pkg)
	seen := map[string]bool{start: true}
	queue := []string{start}
	var viols []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		dir := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(current, ModulePath+"/")))
		found, err := imports(dir)
		if err != nil {
			return nil, err
		}
		for ip := range found {
			if !strings.HasPrefix(ip, ModulePath+"/") || seen[ip] {
				continue
			}
			seen[ip] = true
			if forbidden(ip) {
				viols = append(viols, fmt.Sprintf("%s (via %s)", ip, current))
				continue
			}
			queue = append(queue, ip)
		}
	}
	sort.Strings(viols)
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden %s detected (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}
