// Package csvio reads and writes delimiter-separated files of struct records
// mapped by their `csv` tags.
package csvio

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
)

// Read decodes every record of the file at path. Columns are matched to
// fields by header name; unknown columns are ignored and columns absent from
// the header are left empty. Records shorter than the header have their
// trailing fields left empty and longer ones are cut to the header width.
// A file holding only a header yields an empty slice.
func Read[T any](path string, delimiter rune) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := Decode[T](f, delimiter)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// Decode reads records from r.
func Decode[T any](r io.Reader, delimiter rune) ([]T, error) {
	cr := csv.NewReader(newBOMSkipper(r))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	dec, err := csvutil.NewDecoder(&raggedReader{r: cr})
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	rows := []T{}
	for {
		var v T
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return nil, fmt.Errorf("decode record %d: %w", len(rows)+1, err)
		}
		rows = append(rows, v)
	}
}

// Write encodes rows to path, header first. The file is written to a
// temporary sibling and renamed into place, so readers never observe a
// partially written file.
func Write[T any](path string, delimiter rune, rows []T) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := Encode(tmp, delimiter, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// Encode writes the header and rows to w.
func Encode[T any](w io.Writer, delimiter rune, rows []T) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	cw.Comma = delimiter

	enc := csvutil.NewEncoder(cw)
	var zero T
	if err := enc.EncodeHeader(zero); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for i := range rows {
		if err := enc.Encode(rows[i]); err != nil {
			return fmt.Errorf("encode record %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return bw.Flush()
}

// raggedReader fits every record to the width of the header, the first
// record read.
type raggedReader struct {
	r     *csv.Reader
	width int
}

func (p *raggedReader) Read() ([]string, error) {
	rec, err := p.r.Read()
	if err != nil {
		return nil, err
	}
	switch {
	case p.width == 0:
		p.width = len(rec)
	case len(rec) < p.width:
		padded := make([]string, p.width)
		copy(padded, rec)
		return padded, nil
	case len(rec) > p.width:
		return rec[:p.width], nil
	}
	return rec, nil
}

// bomSkipper drops a UTF-8 byte order mark at the start of the stream, which
// spreadsheet exports commonly prepend and which would otherwise corrupt the
// first header name.
type bomSkipper struct {
	r       *bufio.Reader
	checked bool
}

func newBOMSkipper(r io.Reader) *bomSkipper {
	return &bomSkipper{r: bufio.NewReader(r)}
}

func (b *bomSkipper) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		if head, err := b.r.Peek(3); err == nil && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
			_, _ = b.r.Discard(3)
		}
	}
	return b.r.Read(p)
}
