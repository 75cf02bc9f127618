package geotiff

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

// SampleType selects how Encode stores pixel values.
type SampleType int

const (
	Float32 SampleType = iota
	Float64
	Uint8
	Uint16
	Uint32
	Int16
	Int32
)

func (t SampleType) layout() (format uint16, bits uint16) {
	switch t {
	case Float64:
		return formatFloat, 64
	case Uint8:
		return formatUint, 8
	case Uint16:
		return formatUint, 16
	case Uint32:
		return formatUint, 32
	case Int16:
		return formatInt, 16
	case Int32:
		return formatInt, 32
	default:
		return formatFloat, 32
	}
}

// Image is a single-band raster in EPSG:4326. Values are row-major, north to
// south, west to east.
type Image struct {
	Width, Height int
	Values        []float64
	// OriginLon and OriginLat are the upper-left corner of pixel 0,0.
	OriginLon, OriginLat float64
	// PixelWidth and PixelHeight are degrees per pixel, both positive.
	PixelWidth, PixelHeight float64
	NoData                  *float64
}

// EncodeOptions controls the file layout written by Encode.
type EncodeOptions struct {
	SampleType SampleType
	// ByteOrder defaults to little endian.
	ByteOrder binary.ByteOrder
	Deflate   bool
	// Predictor enables horizontal differencing.
	Predictor bool
	// RowsPerStrip defaults to the whole image in one strip.
	RowsPerStrip int
	// TileSize > 0 writes square tiles instead of strips.
	TileSize int

	compressionTag uint16
	compress       func([]byte) ([]byte, error)
	skipGeoTags    bool
}

// WriteFile encodes img to path, creating parent directories.
func WriteFile(path string, img Image, opts EncodeOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create raster directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create raster: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := Encode(bw, img, opts); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write raster: %w", err)
	}
	return f.Close()
}

// Encode writes img as a single-image GeoTIFF with ModelTiepoint,
// ModelPixelScale, a geographic GeoKeyDirectory and, when set, GDAL_NODATA.
func Encode(w io.Writer, img Image, opts EncodeOptions) error {
	if img.Width <= 0 || img.Height <= 0 {
		return errors.New("image dimensions must be positive")
	}
	if len(img.Values) != img.Width*img.Height {
		return fmt.Errorf("have %d values for a %dx%d image", len(img.Values), img.Width, img.Height)
	}
	if img.PixelWidth <= 0 || img.PixelHeight <= 0 {
		return errors.New("pixel size must be positive")
	}
	order := opts.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}
	format, bits := opts.SampleType.layout()
	sampleBytes := int(bits / 8)

	compression := uint16(compressionNone)
	compress := func(b []byte) ([]byte, error) { return b, nil }
	switch {
	case opts.compress != nil:
		compression, compress = opts.compressionTag, opts.compress
	case opts.Deflate:
		compression, compress = compressionDeflate, deflate
	}

	blockW, blockH := img.Width, img.Height
	if opts.TileSize > 0 {
		blockW, blockH = opts.TileSize, opts.TileSize
	} else if opts.RowsPerStrip > 0 {
		blockH = min(opts.RowsPerStrip, img.Height)
	}
	across, down := ceilDiv(img.Width, blockW), ceilDiv(img.Height, blockH)

	pad := 0.0
	if img.NoData != nil {
		pad = *img.NoData
	}

	var blocks [][]byte
	for by := range down {
		for bx := range across {
			rows := blockH
			if opts.TileSize == 0 {
				rows = min(blockH, img.Height-by*blockH)
			}
			rowBytes := blockW * sampleBytes
			buf := make([]byte, rows*rowBytes)
			for y := range rows {
				for x := range blockW {
					v := pad
					ix, iy := bx*blockW+x, by*blockH+y
					if ix < img.Width && iy < img.Height {
						v = img.Values[iy*img.Width+ix]
					}
					putSample(buf[y*rowBytes+x*sampleBytes:], v, opts.SampleType, order)
				}
			}
			if opts.Predictor {
				applyHorizontalDiff(buf, rowBytes, sampleBytes, order)
			}
			data, err := compress(buf)
			if err != nil {
				return fmt.Errorf("compress block: %w", err)
			}
			blocks = append(blocks, data)
		}
	}

	// Header, then block data, then the IFD and its out-of-line values.
	offsets := make([]uint32, len(blocks))
	counts := make([]uint32, len(blocks))
	pos := uint32(8)
	for i, b := range blocks {
		offsets[i], counts[i] = pos, uint32(len(b))
		pos += uint32(len(b))
	}
	if pos%2 == 1 {
		pos++
	}
	ifdOff := pos

	e := entryBuilder{order: order}
	e.long(tagImageWidth, uint32(img.Width))
	e.long(tagImageLength, uint32(img.Height))
	e.short(tagBitsPerSample, bits)
	e.short(tagCompression, compression)
	e.short(tagPhotometric, 1)
	e.short(tagSamplesPerPixel, 1)
	e.short(tagPlanarConfig, 1)
	if opts.Predictor {
		e.short(tagPredictor, 2)
	}
	e.short(tagSampleFormat, format)
	if opts.TileSize > 0 {
		e.long(tagTileWidth, uint32(blockW))
		e.long(tagTileLength, uint32(blockH))
		e.long(tagTileOffsets, offsets...)
		e.long(tagTileByteCounts, counts...)
	} else {
		e.long(tagStripOffsets, offsets...)
		e.long(tagRowsPerStrip, uint32(blockH))
		e.long(tagStripByteCounts, counts...)
	}
	if !opts.skipGeoTags {
		e.double(tagModelPixelScale, img.PixelWidth, img.PixelHeight, 0)
		e.double(tagModelTiepoint, 0, 0, 0, img.OriginLon, img.OriginLat, 0)
		// Version 1.1.0, 3 keys: geographic model, pixel-is-area, EPSG:4326.
		e.short(tagGeoKeyDirectory, 1, 1, 0, 3, 1024, 0, 1, 2, 1025, 0, 1, 1, 2048, 0, 1, 4326)
	}
	if img.NoData != nil {
		e.ascii(tagGDALNoData, strconv.FormatFloat(*img.NoData, 'g', -1, 64))
	}

	var out bytes.Buffer
	out.Grow(int(pos) + 256)
	if order == binary.BigEndian {
		out.WriteString("MM")
	} else {
		out.WriteString("II")
	}
	writeUint16(&out, order, 42)
	writeUint32(&out, order, ifdOff)
	for _, b := range blocks {
		out.Write(b)
	}
	for uint32(out.Len()) < ifdOff {
		out.WriteByte(0)
	}
	e.writeIFD(&out, ifdOff)

	if _, err := w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("write raster: %w", err)
	}
	return nil
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func putSample(b []byte, v float64, t SampleType, order binary.ByteOrder) {
	switch t {
	case Float64:
		order.PutUint64(b, math.Float64bits(v))
	case Uint8:
		b[0] = uint8(math.Round(v))
	case Uint16:
		order.PutUint16(b, uint16(math.Round(v)))
	case Uint32:
		order.PutUint32(b, uint32(math.Round(v)))
	case Int16:
		order.PutUint16(b, uint16(int16(math.Round(v))))
	case Int32:
		order.PutUint32(b, uint32(int32(math.Round(v))))
	default:
		order.PutUint32(b, math.Float32bits(float32(v)))
	}
}

// applyHorizontalDiff is the inverse of undoHorizontalDiff for one sample per pixel.
func applyHorizontalDiff(data []byte, rowBytes, sampleBytes int, order binary.ByteOrder) {
	for start := 0; start+rowBytes <= len(data); start += rowBytes {
		row := data[start : start+rowBytes]
		for i := len(row) - sampleBytes; i >= sampleBytes; i -= sampleBytes {
			switch sampleBytes {
			case 1:
				row[i] -= row[i-1]
			case 2:
				order.PutUint16(row[i:], order.Uint16(row[i:])-order.Uint16(row[i-2:]))
			case 4:
				order.PutUint32(row[i:], order.Uint32(row[i:])-order.Uint32(row[i-4:]))
			case 8:
				order.PutUint64(row[i:], order.Uint64(row[i:])-order.Uint64(row[i-8:]))
			}
		}
	}
}

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

type entryBuilder struct {
	order   binary.ByteOrder
	entries []outEntry
}

func (b *entryBuilder) short(tag uint16, vals ...uint16) {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		b.order.PutUint16(data[2*i:], v)
	}
	b.entries = append(b.entries, outEntry{tag, dtShort, uint32(len(vals)), data})
}

func (b *entryBuilder) long(tag uint16, vals ...uint32) {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		b.order.PutUint32(data[4*i:], v)
	}
	b.entries = append(b.entries, outEntry{tag, dtLong, uint32(len(vals)), data})
}

func (b *entryBuilder) double(tag uint16, vals ...float64) {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		b.order.PutUint64(data[8*i:], math.Float64bits(v))
	}
	b.entries = append(b.entries, outEntry{tag, dtDouble, uint32(len(vals)), data})
}

func (b *entryBuilder) ascii(tag uint16, s string) {
	data := append([]byte(s), 0)
	b.entries = append(b.entries, outEntry{tag, dtASCII, uint32(len(data)), data})
}

// writeIFD appends the directory at off, followed by values too large to
// store inline. Entries are written in ascending tag order.
func (b *entryBuilder) writeIFD(out *bytes.Buffer, off uint32) {
	slices.SortFunc(b.entries, func(x, y outEntry) int { return int(x.tag) - int(y.tag) })

	extraOff := off + 2 + 12*uint32(len(b.entries)) + 4
	var extra bytes.Buffer
	writeUint16(out, b.order, uint16(len(b.entries)))
	for _, e := range b.entries {
		writeUint16(out, b.order, e.tag)
		writeUint16(out, b.order, e.typ)
		writeUint32(out, b.order, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			out.Write(inline[:])
			continue
		}
		writeUint32(out, b.order, extraOff+uint32(extra.Len()))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	writeUint32(out, b.order, 0)
	out.Write(extra.Bytes())
}

func writeUint16(w *bytes.Buffer, order binary.ByteOrder, v uint16) {
	var b [2]byte
	order.PutUint16(b[:], v)
	w.Write(b[:])
}

func writeUint32(w *bytes.Buffer, order binary.ByteOrder, v uint32) {
	var b [4]byte
	order.PutUint32(b[:], v)
	w.Write(b[:])
}
