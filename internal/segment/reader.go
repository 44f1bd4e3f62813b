package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
)

// ReadHeader reads and validates only the header of a generation file.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("opening generation file: %w", err)
	}
	defer f.Close()
	b := make([]byte, HeaderSize)
	if _, err := f.ReadAt(b, 0); err != nil {
		return Header{}, fmt.Errorf("reading header: %w", err)
	}
	h := decodeHeader(b)
	if h.Magic != MagicBytes {
		return Header{}, fmt.Errorf("invalid generation file: bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("unsupported generation file version %d", h.Version)
	}
	return h, nil
}

// Read loads a generation file written by Write.
func Read(path string) (*index.Generation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading generation file: %w", err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("invalid generation file: %d bytes is too short", len(data))
	}
	h := decodeHeader(data[:HeaderSize])
	if h.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid generation file: bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported generation file version %d", h.Version)
	}
	end := h.BodyOffset + h.BodySize
	if h.BodyOffset < int64(HeaderSize) || end+int64(FooterSize) != int64(len(data)) {
		return nil, fmt.Errorf("invalid generation file: body bounds %d+%d do not match size %d",
			h.BodyOffset, h.BodySize, len(data))
	}
	body := data[h.BodyOffset:end]
	footer := data[end:]
	if want := binary.LittleEndian.Uint32(footer[0:4]); crc32.ChecksumIEEE(body) != want {
		return nil, fmt.Errorf("invalid generation file: checksum mismatch")
	}

	var snap index.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("parsing generation body: %w", err)
	}
	if snap.ID != h.Generation || uint32(snap.DocCount) != h.DocCount {
		return nil, fmt.Errorf("invalid generation file: header says generation %d with %d docs, body says %d with %d",
			h.Generation, h.DocCount, snap.ID, snap.DocCount)
	}
	return index.FromSnapshot(&snap)
}
