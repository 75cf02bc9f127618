package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// Baseline and GeoTIFF tags read by this package.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPlanarConfig     = 284
	tagPredictor        = 317
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagSampleFormat     = 339
	tagModelPixelScale  = 33550
	tagModelTiepoint    = 33922
	tagGeoKeyDirectory  = 34735
	tagGDALNoData       = 42113
	maxTagBytes         = 64 << 20
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionDeflate2 = 32946
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSize = [...]uint64{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

type ifdEntry struct {
	typ   uint16
	count uint32
	data  []byte
}

// directory is the first image file directory of a TIFF.
type directory struct {
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

func readDirectory(r io.ReaderAt, order binary.ByteOrder, off int64) (*directory, error) {
	var cnt [2]byte
	if err := readFull(r, cnt[:], off); err != nil {
		return nil, fmt.Errorf("read IFD entry count: %w", err)
	}
	n := int(order.Uint16(cnt[:]))
	raw := make([]byte, 12*n)
	if err := readFull(r, raw, off+2); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}

	d := &directory{order: order, entries: make(map[uint16]ifdEntry, n)}
	for i := range n {
		e := raw[i*12 : (i+1)*12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		if typ == 0 || int(typ) >= len(typeSize) {
			continue
		}
		size := typeSize[typ] * uint64(count)
		var data []byte
		if size <= 4 {
			data = append([]byte(nil), e[8:8+size]...)
		} else {
			if size > maxTagBytes {
				return nil, fmt.Errorf("tag %d: %d bytes exceeds limit", tag, size)
			}
			data = make([]byte, size)
			if err := readFull(r, data, int64(order.Uint32(e[8:12]))); err != nil {
				return nil, fmt.Errorf("read tag %d: %w", tag, err)
			}
		}
		d.entries[tag] = ifdEntry{typ: typ, count: count, data: data}
	}
	return d, nil
}

func (d *directory) has(tag uint16) bool {
	_, ok := d.entries[tag]
	return ok
}

func (d *directory) uints(tag uint16) ([]uint64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.data[i])
		case dtShort:
			out[i] = uint64(d.order.Uint16(e.data[2*i:]))
		case dtLong:
			out[i] = uint64(d.order.Uint32(e.data[4*i:]))
		default:
			return nil, fmt.Errorf("tag %d: type %d is not an unsigned integer", tag, e.typ)
		}
	}
	return out, nil
}

func (d *directory) uint(tag uint16, def uint64) (uint64, error) {
	v, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

func (d *directory) floats(tag uint16) ([]float64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, nil
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.order.Uint64(e.data[8*i:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(e.data[4*i:])))
		default:
			return nil, fmt.Errorf("tag %d: type %d is not a float", tag, e.typ)
		}
	}
	return out, nil
}

func (d *directory) ascii(tag uint16) string {
	e, ok := d.entries[tag]
	if !ok || e.typ != dtASCII {
		return ""
	}
	return strings.TrimRight(string(e.data), "\x00 ")
}

// readFull reads len(p) bytes at off. A short read at end of input is an error.
func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
