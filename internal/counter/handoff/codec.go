// Package handoff moves a finished partition table from a worker to the
// coordinating process. Tables travel in a fixed-record binary format, either
// through files (worker processes) or through an in-memory mailbox.
package handoff

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
	apperrors "github.com/Adithya-Monish-Kumar-K/termfreq/pkg/errors"
)

// MagicBytes identifies a handoff artifact ("TFH1").
const (
	MagicBytes    uint32 = 0x54464831
	FormatVersion uint32 = 1
	HeaderSize    int    = 16
	FooterSize    int    = 4
	MaxTermWidth  int    = 1<<16 - 1
)

// Header is the 16-byte header at the start of every artifact.
type Header struct {
	Magic     uint32
	Version   uint32
	Count     uint32
	TermWidth uint32
}

// RecordSize is the size of one (term, count) record for the given width:
// a uint16 term length, width term bytes (zero padded) and a uint64 count.
func RecordSize(termWidth int) int {
	return 2 + termWidth + 8
}

// Encode writes entries as an artifact with fixed-size records of width
// termWidth. A term longer than termWidth is an error.
func Encode(w io.Writer, termWidth int, entries []freq.Entry) error {
	if termWidth < 1 || termWidth > MaxTermWidth {
		return fmt.Errorf("invalid term width %d", termWidth)
	}
	bw := bufio.NewWriter(w)
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(entries)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(termWidth))
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	crc := crc32.NewIEEE()
	out := io.MultiWriter(bw, crc)
	record := make([]byte, RecordSize(termWidth))
	for _, e := range entries {
		if len(e.Term) > termWidth {
			return fmt.Errorf("term %q exceeds record width %d", e.Term, termWidth)
		}
		clear(record)
		binary.LittleEndian.PutUint16(record[0:2], uint16(len(e.Term)))
		copy(record[2:], e.Term)
		binary.LittleEndian.PutUint64(record[2+termWidth:], uint64(e.Count))
		if _, err := out.Write(record); err != nil {
			return fmt.Errorf("writing record for term %q: %w", e.Term, err)
		}
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer, crc.Sum32())
	if _, err := bw.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing artifact: %w", err)
	}
	return nil
}

// Decode reads an artifact written by Encode. Structural problems are
// reported as ErrHandoffCorrupt.
func Decode(r io.Reader) ([]freq.Entry, error) {
	br := bufio.NewReader(r)
	headerBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", apperrors.ErrHandoffCorrupt, err)
	}
	header := Header{
		Magic:     binary.LittleEndian.Uint32(headerBytes[0:4]),
		Version:   binary.LittleEndian.Uint32(headerBytes[4:8]),
		Count:     binary.LittleEndian.Uint32(headerBytes[8:12]),
		TermWidth: binary.LittleEndian.Uint32(headerBytes[12:16]),
	}
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrHandoffCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", apperrors.ErrHandoffCorrupt, header.Version)
	}
	width := int(header.TermWidth)
	if width < 1 || width > MaxTermWidth {
		return nil, fmt.Errorf("%w: invalid term width %d", apperrors.ErrHandoffCorrupt, width)
	}

	crc := crc32.NewIEEE()
	in := io.TeeReader(br, crc)
	record := make([]byte, RecordSize(width))
	entries := make([]freq.Entry, 0, min(int(header.Count), 1<<16))
	for i := uint32(0); i < header.Count; i++ {
		if _, err := io.ReadFull(in, record); err != nil {
			return nil, fmt.Errorf("%w: reading record %d of %d: %v", apperrors.ErrHandoffCorrupt, i, header.Count, err)
		}
		n := int(binary.LittleEndian.Uint16(record[0:2]))
		if n > width {
			return nil, fmt.Errorf("%w: record %d term length %d exceeds width %d", apperrors.ErrHandoffCorrupt, i, n, width)
		}
		entries = append(entries, freq.Entry{
			Term:  string(record[2 : 2+n]),
			Count: int64(binary.LittleEndian.Uint64(record[2+width:])),
		})
	}

	footer := make([]byte, FooterSize)
	if _, err := io.ReadFull(br, footer); err != nil {
		return nil, fmt.Errorf("%w: reading footer: %v", apperrors.ErrHandoffCorrupt, err)
	}
	if want, got := binary.LittleEndian.Uint32(footer), crc.Sum32(); want != got {
		return nil, fmt.Errorf("%w: checksum mismatch (stored %08x, computed %08x)", apperrors.ErrHandoffCorrupt, want, got)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after footer", apperrors.ErrHandoffCorrupt)
	}
	return entries, nil
}
