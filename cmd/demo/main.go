package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/analyzer"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/source"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/system"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/logger"
)

type demoSearch struct {
	title string
	req   system.Request
}

// The demo indexes a small corpus in memory and runs a few canned searches
// against it.
func main() {
	corpus := flag.String("corpus", config.SourceLines, "corpus to index: lines or packages")
	root := flag.String("root", "", "directory to index (default short-stories for lines, . for packages)")
	analyzerName := flag.String("analyzer", "standard", "analyzer: standard or english")
	flag.Parse()

	logger.Setup("info", "text")
	ctx := context.Background()

	an, err := analyzer.New(*analyzerName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var searches []demoSearch
	switch *corpus {
	case config.SourceLines:
		if *root == "" {
			*root = "short-stories"
		}
		searches = lineSearches()
	case config.SourcePackages:
		if *root == "" {
			*root = "."
		}
		searches = packageSearches()
	default:
		fmt.Fprintf(os.Stderr, "unknown corpus %q\n", *corpus)
		os.Exit(2)
	}

	src, err := source.FromConfig(config.SourceConfig{Kind: *corpus, Root: *root})
	if err != nil {
		slog.Error("failed to open corpus", "error", err)
		os.Exit(1)
	}

	sys := system.New(system.Config{
		Analyzer:             an,
		DefaultFields:        source.DefaultFields(*corpus),
		AllowLeadingWildcard: true,
		HitLimit:             10,
	})
	defer sys.Close()

	stats, err := sys.Reindex(ctx, src)
	if err != nil {
		slog.Error("indexing failed", "root", *root, "error", err)
		os.Exit(1)
	}
	slog.Info("corpus indexed", "corpus", *corpus, "root", *root, "documents", stats.Documents, "terms", stats.Terms)

	for _, s := range searches {
		slog.Info(s.title, "query", s.req.Expression)
		res, err := sys.Search(ctx, s.req)
		if err != nil {
			slog.Error("search failed", "query", s.req.Expression, "error", err)
			continue
		}
		slog.Info("found hits", "total", res.TotalHits, "parsed", res.Query)
		for _, hit := range res.Hits {
			slog.Info("    hit", "doc", hit.Doc, "fields", describe(hit.Fields))
		}
		for _, f := range res.Facets {
			for _, lc := range f.Labels {
				slog.Info("    facet", "dimension", f.Dimension, "label", lc.Label, "count", lc.Count)
			}
		}
	}
}

func lineSearches() []demoSearch {
	return []demoSearch{
		{title: "basic search", req: system.Request{Expression: "explorer"}},
		{title: "leading wildcard search", req: system.Request{Expression: "*fish"}},
		// The standard analyzer does not stem, so "entity" misses "entities".
		// Run with -analyzer english to find it.
		{title: "language-sensitive search", req: system.Request{Expression: "entity"}},
		{title: "range search over line numbers", req: system.Request{
			Expression:      "line_number:[MIN TO 2]",
			FacetDimensions: []string{source.FieldFileName},
		}},
	}
}

func packageSearches() []demoSearch {
	return []demoSearch{
		{title: "type name search", req: system.Request{Expression: "Parser"}},
		{title: "type name search", req: system.Request{Expression: "Generation"}},
		{title: "package path search", req: system.Request{
			Expression:      `package_name:"internal/index"`,
			FacetDimensions: []string{source.FieldModuleName},
		}},
	}
}

func describe(fields []document.Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Name, f.Value))
	}
	return strings.Join(parts, " ")
}
