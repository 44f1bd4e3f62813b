// Package segment persists generations as single files: a fixed binary
// header, a JSON snapshot body and a checksum footer.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
)

// MagicBytes identifies a valid .fsg generation file.
const (
	MagicBytes    uint32 = 0x4653474E
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 16
	FileExt              = ".fsg"
)

// Header is the 64-byte header written at the start of every file.
type Header struct {
	Magic      uint32
	Version    uint32
	DocCount   uint32
	Generation uint64
	CreatedAt  int64
	BodyOffset int64
	BodySize   int64
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], h.Generation)
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.BodyOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.BodySize))
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		DocCount:   binary.LittleEndian.Uint32(b[8:12]),
		Generation: binary.LittleEndian.Uint64(b[16:24]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[24:32])),
		BodyOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		BodySize:   int64(binary.LittleEndian.Uint64(b[40:48])),
	}
}

// FileName returns the file name used for a generation id. Names sort in
// generation order.
func FileName(generation uint64) string {
	return fmt.Sprintf("gen_%020d%s", generation, FileExt)
}

// Write atomically stores the generation in dir. It writes to a .tmp file
// first and renames on success; on failure the .tmp file is removed.
func Write(dir string, g *index.Generation) (path string, err error) {
	snap, err := g.Snapshot()
	if err != nil {
		return "", fmt.Errorf("snapshotting generation %d: %w", g.ID(), err)
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshaling generation %d: %w", g.ID(), err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating generation directory: %w", err)
	}
	finalPath := filepath.Join(dir, FileName(snap.ID))
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp generation file: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			f.Close()
		}
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	header := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		DocCount:   uint32(snap.DocCount),
		Generation: snap.ID,
		CreatedAt:  time.Now().Unix(),
		BodyOffset: int64(HeaderSize),
		BodySize:   int64(len(body)),
	}
	if _, err := f.Write(header.encode()); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		return "", fmt.Errorf("writing body: %w", err)
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(body))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(body)))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing generation file: %w", err)
	}
	closed = true
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing generation file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming generation file: %w", err)
	}
	return finalPath, nil
}
