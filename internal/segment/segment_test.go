package segment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/analyzer"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
)

func lineDocs() []document.Document {
	lines := []string{"One fish", "Two fish", "Red fish", "Blue starfish"}
	docs := make([]document.Document, len(lines))
	for i, l := range lines {
		docs[i] = document.New(
			document.KeywordField("file_name", "fish.txt", true),
			document.IntField("line_number", int64(i+1), true),
			document.TextField("contents", l, true),
			document.FacetField("file_name", "fish.txt"),
		)
	}
	return docs
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	w := index.NewWriter(analyzer.Standard{})
	g, err := w.Build(context.Background(), lineDocs())
	require.NoError(t, err)

	path, err := Write(dir, g)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName(g.ID())), path)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, g.ID(), h.Generation)
	assert.Equal(t, uint32(4), h.DocCount)

	loaded, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, g.ID(), loaded.ID())
	assert.Equal(t, []uint32{0, 1, 2}, loaded.Postings("contents", "fish").ToArray())
	assert.Equal(t, []uint32{0, 1}, loaded.NumericRange("line_number", 1, 2).ToArray())
	assert.Equal(t, g.Stored(3), loaded.Stored(3))
}

func TestWriteFailureRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	w := index.NewWriter(analyzer.Standard{})
	g, err := w.Build(context.Background(), lineDocs())
	require.NoError(t, err)

	// A non-empty directory at the destination makes the rename fail.
	finalPath := filepath.Join(dir, FileName(g.ID()))
	require.NoError(t, os.MkdirAll(filepath.Join(finalPath, "occupied"), 0755))

	_, err = Write(dir, g)
	require.Error(t, err)
	_, err = os.Stat(finalPath + ".tmp")
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	g, err := index.NewWriter(nil).Build(context.Background(), lineDocs())
	require.NoError(t, err)
	path, err := Write(dir, g)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] ^= 0xFF; return b }},
		{"flipped body byte", func(b []byte) []byte { b[HeaderSize+5] ^= 0x01; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-3] }},
		{"too short", func(b []byte) []byte { return b[:10] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupt := tt.mutate(append([]byte(nil), data...))
			p := filepath.Join(dir, "corrupt"+FileExt)
			require.NoError(t, os.WriteFile(p, corrupt, 0644))
			_, err := Read(p)
			assert.Error(t, err)
		})
	}
}

func TestStoreLatestAndPrune(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 2)

	_, err := store.Latest()
	assert.ErrorIs(t, err, ErrNoGeneration)

	w := index.NewWriter(nil)
	var last *index.Generation
	for i := 0; i < 3; i++ {
		g, err := w.Build(context.Background(), lineDocs()[:i+1])
		require.NoError(t, err)
		require.NoError(t, store.Save(g))
		last = g
	}

	files, err := store.List()
	require.NoError(t, err)
	assert.Len(t, files, 2)

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, last.ID(), latest.ID())
	assert.Equal(t, 3, latest.DocCount())
}

func TestStoreSkipsUnreadableNewest(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 5)
	g, err := index.NewWriter(nil).Build(context.Background(), lineDocs())
	require.NoError(t, err)
	require.NoError(t, store.Save(g))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(g.ID()+1)), []byte("garbage"), 0644))

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, g.ID(), latest.ID())
}
