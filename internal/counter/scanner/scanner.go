// Package scanner extracts whitespace-delimited terms from one byte range of
// an input. Terms are raw byte runs: no case folding, no punctuation handling.
//
// A term belongs to the range that contains its first byte. A scanner whose
// range starts inside a term skips the rest of that term, and keeps reading
// past its own end to finish the last term it started, so adjacent scanners
// together see every term of the input exactly once.
package scanner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/partition"
)

// DefaultMaxTermLen is the term byte cap used when none is configured.
const DefaultMaxTermLen = 49

const readBufferSize = 64 * 1024

// IsSpace reports whether c separates terms. The set matches C's isspace in
// the "C" locale.
func IsSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// Scanner iterates over the terms of one partition in the manner of
// bufio.Scanner:
//
//	s := scanner.New(f, rng, 49)
//	for s.Scan() {
//		table.UpdateBytes(s.Bytes())
//	}
//	if err := s.Err(); err != nil { ... }
type Scanner struct {
	src        io.ReaderAt
	rng        partition.Range
	maxTermLen int

	br        *bufio.Reader
	base      int64
	pos       int64
	started   bool
	done      bool
	term      []byte
	truncated int64
	err       error
}

// New creates a Scanner over rng of src. maxTermLen <= 0 selects
// DefaultMaxTermLen.
func New(src io.ReaderAt, rng partition.Range, maxTermLen int) *Scanner {
	if maxTermLen <= 0 {
		maxTermLen = DefaultMaxTermLen
	}
	s := &Scanner{
		src:        src,
		rng:        rng,
		maxTermLen: maxTermLen,
		term:       make([]byte, 0, maxTermLen),
	}
	s.br = bufio.NewReaderSize(s.section(), readBufferSize)
	return s
}

// section returns a reader positioned one byte before the range start, so the
// realignment step can tell whether the range begins on a term boundary.
func (s *Scanner) section() io.Reader {
	s.base = s.rng.Start
	if s.base > 0 {
		s.base--
	}
	s.pos = s.base
	return io.NewSectionReader(s.src, s.base, math.MaxInt64-s.base)
}

// Reset rewinds the scanner to the start of its range.
func (s *Scanner) Reset() {
	s.br.Reset(s.section())
	s.started = false
	s.done = false
	s.term = s.term[:0]
	s.truncated = 0
	s.err = nil
}

// Scan advances to the next term owned by the range. It returns false at the
// end of the range, at the end of input, or on a read error.
func (s *Scanner) Scan() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		if s.rng.Start > 0 && !s.realign() {
			return false
		}
	}

	c, ok := s.skipSpace()
	if !ok {
		return false
	}
	if s.pos-1 >= s.rng.End {
		s.done = true
		return false
	}

	s.term = append(s.term[:0], c)
	cut := false
	for {
		c, ok := s.readByte()
		if !ok || IsSpace(c) {
			break
		}
		if len(s.term) < s.maxTermLen {
			s.term = append(s.term, c)
		} else {
			cut = true
		}
	}
	if s.err != nil {
		return false
	}
	if cut {
		s.truncated++
	}
	return true
}

// realign discards bytes from Start-1 up to and including the first
// whitespace byte. When the byte before the cut is whitespace only that byte
// is consumed; otherwise the term straddling the cut is left to the previous
// range.
func (s *Scanner) realign() bool {
	for {
		c, ok := s.readByte()
		if !ok {
			return false
		}
		if IsSpace(c) {
			return true
		}
	}
}

func (s *Scanner) skipSpace() (byte, bool) {
	for {
		c, ok := s.readByte()
		if !ok {
			return 0, false
		}
		if !IsSpace(c) {
			return c, true
		}
	}
}

func (s *Scanner) readByte() (byte, bool) {
	c, err := s.br.ReadByte()
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("reading partition %s at offset %d: %w", s.rng, s.pos, err)
		}
		return 0, false
	}
	s.pos++
	return c, true
}

// Bytes returns the current term. The slice is overwritten by the next Scan.
func (s *Scanner) Bytes() []byte {
	return s.term
}

// Term returns a copy of the current term.
func (s *Scanner) Term() string {
	return string(s.term)
}

// Err returns the first non-EOF read error.
func (s *Scanner) Err() error {
	return s.err
}

// Truncated returns how many terms were cut to the maximum term length.
func (s *Scanner) Truncated() int64 {
	return s.truncated
}

// Consumed returns the number of bytes read so far, including realignment
// and the tail of the last term past the range end.
func (s *Scanner) Consumed() int64 {
	return s.pos - s.base
}

// Range returns the partition being scanned.
func (s *Scanner) Range() partition.Range {
	return s.rng
}
