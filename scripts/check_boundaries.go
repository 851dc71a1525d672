// Command check_boundaries enforces the import rules between the layers of
// every service under contexts/. Run it from the repository root:
//
//	go run ./scripts
package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "assetsnap"

// valueLibraries are packages the inner layers may use for addresses, hashes
// and 256-bit words. None of them perform I/O.
var valueLibraries = []string{
	"github.com/ethereum/go-ethereum/common",
	"github.com/ethereum/go-ethereum/crypto",
	"github.com/holiman/uint256",
}

// layerRule lists what a layer may import besides the standard library.
// Service-relative entries are joined to the service import path.
type layerRule struct {
	service   []string
	libraries []string
}

var layerRules = map[string]layerRule{
	"domain":      {service: []string{"domain"}, libraries: valueLibraries},
	"ports":       {service: []string{"domain"}, libraries: valueLibraries},
	"application": {service: []string{"application", "domain", "ports"}, libraries: valueLibraries},
}

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (%s)", v.File, v.Line, v.Import, v.Rule)
}

func main() {
	violations, err := collectViolations("contexts")
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary check failed: %v\n", err)
		os.Exit(2)
	}
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}
	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Println("- " + v.String())
	}
	os.Exit(1)
}

// collectViolations checks every non-test Go file below root, which must be a
// contexts directory laid out as <context>/<service>/<layer>/...
func collectViolations(root string) ([]violation, error) {
	var violations []violation
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 3 {
			return nil
		}
		service := fmt.Sprintf("%s/contexts/%s/%s", modulePath, parts[0], parts[1])
		layer := ""
		if len(parts) > 3 {
			layer = parts[2]
		}
		found, err := checkFile(path, "contexts/"+filepath.ToSlash(rel), service, layer)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Import < b.Import
	})
	return violations, nil
}

func checkFile(path, display, service, layer string) ([]violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: display, Line: 1, Rule: "file must parse"}}, nil
	}

	var out []violation
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		line := fset.Position(imp.Pos()).Line
		if rule := importRule(importPath, service, layer); rule != "" {
			out = append(out, violation{File: display, Line: line, Import: importPath, Rule: rule})
		}
	}
	return out, nil
}

// importRule returns the broken rule, or "" when the import is allowed.
func importRule(importPath, service, layer string) string {
	if within(importPath, modulePath+"/contexts") && !within(importPath, service) {
		return "cross-service imports are forbidden"
	}
	rule, restricted := layerRules[layer]
	if !restricted || isStdlib(importPath) {
		return ""
	}
	for _, dir := range rule.service {
		if within(importPath, service+"/"+dir) {
			return ""
		}
	}
	for _, lib := range rule.libraries {
		if within(importPath, lib) {
			return ""
		}
	}
	switch {
	case strings.Contains(importPath, "/adapters/") || strings.HasSuffix(importPath, "/adapters"):
		return layer + " must not import adapters"
	case within(importPath, modulePath+"/internal"), within(importPath, modulePath+"/cmd"):
		return layer + " must not import runtime infrastructure"
	default:
		return layer + " import is outside its allowlist"
	}
}

func within(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}

func isStdlib(importPath string) bool {
	if within(importPath, modulePath) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
