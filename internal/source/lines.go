package source

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
)

const (
	FieldFileName   = "file_name"
	FieldLineNumber = "line_number"
	FieldContents   = "contents"
)

const maxLineSize = 1 << 20

// Lines indexes every line of the given files as one document. Directories
// are walked recursively, skipping hidden entries. Line numbers start at 1.
type Lines struct {
	Paths []string
}

func (l *Lines) Name() string { return "lines" }

func (l *Lines) Load(ctx context.Context) ([]document.Document, error) {
	files, err := l.files()
	if err != nil {
		return nil, err
	}
	var docs []document.Document
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docs, err = appendLines(docs, path)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (l *Lines) files() ([]string, error) {
	var files []string
	for _, root := range l.Paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", root, err)
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && d.Name()[0] == '.' {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func appendLines(docs []document.Document, path string) ([]document.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for n := int64(1); sc.Scan(); n++ {
		docs = append(docs, document.New(
			document.Field{Name: FieldFileName, Type: document.Keyword, Value: name, Stored: true, Indexed: true, Faceted: true},
			document.IntField(FieldLineNumber, n, true),
			document.TextField(FieldContents, sc.Text(), true),
		))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return docs, nil
}
