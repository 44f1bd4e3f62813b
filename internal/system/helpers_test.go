package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/analyzer"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func mustAnalyzer(t testing.TB, name string) analyzer.Analyzer {
	t.Helper()
	a, err := analyzer.New(name)
	require.NoError(t, err)
	return a
}
