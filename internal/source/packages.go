package source

import (
	"bufio"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
)

const (
	FieldTypeName    = "type_name"
	FieldPackageName = "package_name"
	FieldModuleName  = "module_name"
)

// UnnamedModule labels packages found outside any go.mod.
const UnnamedModule = "unnamed"

// GoPackages indexes the exported types declared under Root, one document
// per type with its package import path and module. Test files, testdata,
// vendor and hidden directories are skipped.
type GoPackages struct {
	Root string
}

func (p *GoPackages) Name() string { return "packages" }

func (p *GoPackages) Load(ctx context.Context) ([]document.Document, error) {
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return nil, err
	}
	modules := map[string]string{}
	fset := token.NewFileSet()
	var docs []document.Document

	err = filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if file != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}

		f, err := parser.ParseFile(fset, file, nil, parser.SkipObjectResolution)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", file, err)
		}
		dir := filepath.Dir(file)
		modDir, modPath := findModule(dir, root, modules)
		pkg := importPath(modDir, modPath, dir, f.Name.Name)

		for _, typ := range exportedTypes(f) {
			docs = append(docs, document.New(
				document.TextField(FieldTypeName, typ, true),
				document.TextField(FieldPackageName, pkg, true),
				document.Field{Name: FieldModuleName, Type: document.Text, Value: modPath, Stored: true, Indexed: true, Faceted: true},
			))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", p.Root, err)
	}
	return docs, nil
}

func exportedTypes(f *ast.File) []string {
	var names []string
	for _, decl := range f.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			if ts := spec.(*ast.TypeSpec); ts.Name.IsExported() {
				names = append(names, ts.Name.Name)
			}
		}
	}
	return names
}

// findModule returns the directory and module path of the nearest go.mod
// at or above dir, not looking above root. Results are memoized per dir.
func findModule(dir, root string, cache map[string]string) (string, string) {
	for d := dir; ; d = filepath.Dir(d) {
		if mod, ok := cache[d]; ok {
			if mod == "" {
				break
			}
			return d, mod
		}
		if mod := readModulePath(filepath.Join(d, "go.mod")); mod != "" {
			cache[d] = mod
			return d, mod
		}
		if d == root || filepath.Dir(d) == d {
			break
		}
	}
	cache[dir] = ""
	return "", UnnamedModule
}

func readModulePath(gomod string) string {
	f, err := os.Open(gomod)
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "module"); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
			return strings.Trim(strings.TrimSpace(rest), `"`)
		}
	}
	return ""
}

func importPath(modDir, modPath, dir, pkgName string) string {
	if modDir == "" {
		return pkgName
	}
	rel, err := filepath.Rel(modDir, dir)
	if err != nil || rel == "." {
		return modPath
	}
	return path.Join(modPath, filepath.ToSlash(rel))
}
