// Package geotiff samples single-band GeoTIFF rasters in geographic
// coordinates, such as a population density grid in EPSG:4326.
//
// Only the parts of TIFF 6.0 that such rasters use are supported: classic
// (non-Big) TIFF in either byte order, strip or tile layout, no/LZW/Deflate
// compression, horizontal differencing, and integer or IEEE float samples.
// The first image of the file is read; band 1 holds the value.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/tiff/lzw"
)

// ErrOutOfBounds is returned when a coordinate maps to a pixel outside the raster.
var ErrOutOfBounds = errors.New("coordinate outside raster")

const (
	formatUint  = 1
	formatInt   = 2
	formatFloat = 3
)

// DefaultCacheBlocks is the number of decoded strips or tiles kept in memory.
const DefaultCacheBlocks = 64

// Raster is an open GeoTIFF. It is safe for concurrent use.
type Raster struct {
	src    io.ReaderAt
	closer io.Closer
	order  binary.ByteOrder

	width, height  int
	blockW, blockH int
	across         int
	tiled          bool
	offsets        []uint64
	counts         []uint64

	spp         int
	planar      uint64
	sampleBytes int
	format      uint64
	compression uint64
	predictor   uint64

	tieI, tieJ, tieX, tieY float64
	scaleX, scaleY         float64
	noData                 float64
	hasNoData              bool

	cache   *lru.Cache[int, []byte]
	metrics *observability.Metrics
}

// Open opens the GeoTIFF at path. The file stays open until Close.
func Open(path string, cacheBlocks int, metrics *observability.Metrics) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	r, err := New(f, cacheBlocks, metrics)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read raster %s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// New reads the TIFF header and first directory from src.
func New(src io.ReaderAt, cacheBlocks int, metrics *observability.Metrics) (*Raster, error) {
	var hdr [8]byte
	if err := readFull(src, hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF file")
	}
	switch order.Uint16(hdr[2:4]) {
	case 42:
	case 43:
		return nil, errors.New("BigTIFF is not supported")
	default:
		return nil, errors.New("not a TIFF file")
	}

	dir, err := readDirectory(src, order, int64(order.Uint32(hdr[4:8])))
	if err != nil {
		return nil, err
	}

	if cacheBlocks <= 0 {
		cacheBlocks = DefaultCacheBlocks
	}
	cache, err := lru.New[int, []byte](cacheBlocks)
	if err != nil {
		return nil, fmt.Errorf("create block cache: %w", err)
	}

	r := &Raster{src: src, order: order, cache: cache, metrics: metrics}
	if err := r.configure(dir); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Raster) configure(d *directory) error {
	width, err := d.uint(tagImageWidth, 0)
	if err != nil {
		return err
	}
	height, err := d.uint(tagImageLength, 0)
	if err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return errors.New("missing image dimensions")
	}
	r.width, r.height = int(width), int(height)

	spp, err := d.uint(tagSamplesPerPixel, 1)
	if err != nil {
		return err
	}
	r.spp = max(int(spp), 1)

	bps, err := d.uints(tagBitsPerSample)
	if err != nil {
		return err
	}
	bits := uint64(1)
	if len(bps) > 0 {
		bits = bps[0]
	}
	if r.format, err = d.uint(tagSampleFormat, formatUint); err != nil {
		return err
	}
	if err := checkSampleType(r.format, bits); err != nil {
		return err
	}
	r.sampleBytes = int(bits / 8)

	if r.compression, err = d.uint(tagCompression, compressionNone); err != nil {
		return err
	}
	switch r.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflate2:
	default:
		return fmt.Errorf("compression %d is not supported", r.compression)
	}
	if r.predictor, err = d.uint(tagPredictor, 1); err != nil {
		return err
	}
	if r.predictor != 1 && r.predictor != 2 {
		return fmt.Errorf("predictor %d is not supported", r.predictor)
	}
	if r.planar, err = d.uint(tagPlanarConfig, 1); err != nil {
		return err
	}

	if err := r.configureLayout(d); err != nil {
		return err
	}
	return r.configureGeo(d)
}

func checkSampleType(format, bits uint64) error {
	ok := false
	switch format {
	case formatUint, formatInt:
		ok = bits == 8 || bits == 16 || bits == 32
	case formatFloat:
		ok = bits == 32 || bits == 64
	}
	if !ok {
		return fmt.Errorf("sample format %d with %d bits is not supported", format, bits)
	}
	return nil
}

func (r *Raster) configureLayout(d *directory) error {
	if d.has(tagTileWidth) {
		r.tiled = true
		tw, err := d.uint(tagTileWidth, 0)
		if err != nil {
			return err
		}
		tl, err := d.uint(tagTileLength, 0)
		if err != nil {
			return err
		}
		if tw == 0 || tl == 0 {
			return errors.New("invalid tile size")
		}
		r.blockW, r.blockH = int(tw), int(tl)
		if r.offsets, err = d.uints(tagTileOffsets); err != nil {
			return err
		}
		if r.counts, err = d.uints(tagTileByteCounts); err != nil {
			return err
		}
	} else {
		rps, err := d.uint(tagRowsPerStrip, uint64(r.height))
		if err != nil {
			return err
		}
		r.blockW, r.blockH = r.width, min(max(int(rps), 1), r.height)
		if r.offsets, err = d.uints(tagStripOffsets); err != nil {
			return err
		}
		if r.counts, err = d.uints(tagStripByteCounts); err != nil {
			return err
		}
	}

	r.across = ceilDiv(r.width, r.blockW)
	need := r.across * ceilDiv(r.height, r.blockH)
	if r.planar == 2 {
		need *= r.spp
	}
	if len(r.offsets) < need || len(r.counts) != len(r.offsets) {
		return fmt.Errorf("expected %d blocks, found %d offsets and %d byte counts", need, len(r.offsets), len(r.counts))
	}
	return nil
}

func (r *Raster) configureGeo(d *directory) error {
	tie, err := d.floats(tagModelTiepoint)
	if err != nil {
		return err
	}
	if len(tie) < 6 {
		return errors.New("no tie points found in the GeoTIFF")
	}
	scale, err := d.floats(tagModelPixelScale)
	if err != nil {
		return err
	}
	if len(scale) < 2 {
		return errors.New("no ModelPixelScale found in the GeoTIFF")
	}
	if scale[0] <= 0 || scale[1] <= 0 {
		return fmt.Errorf("invalid pixel scale %v,%v", scale[0], scale[1])
	}
	r.tieI, r.tieJ, r.tieX, r.tieY = tie[0], tie[1], tie[3], tie[4]
	r.scaleX, r.scaleY = scale[0], scale[1]

	if s := d.ascii(tagGDALNoData); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse GDAL_NODATA %q: %w", s, err)
		}
		if r.format == formatFloat && r.sampleBytes == 4 {
			v = float64(float32(v))
		}
		r.noData, r.hasNoData = v, true
	}
	return nil
}

// Size returns the raster dimensions in pixels.
func (r *Raster) Size() (width, height int) {
	return r.width, r.height
}

// Pixel maps a coordinate to its pixel using the first tie point and the
// pixel scale. Coordinates outside the raster return ErrOutOfBounds.
func (r *Raster) Pixel(lat, lon float64) (col, row int, err error) {
	c := math.Floor((lon-r.tieX)/r.scaleX + r.tieI)
	w := math.Floor((r.tieY-lat)/r.scaleY + r.tieJ)
	if math.IsNaN(c) || math.IsNaN(w) || c < 0 || w < 0 || c >= float64(r.width) || w >= float64(r.height) {
		return 0, 0, fmt.Errorf("%w: lat %v lon %v", ErrOutOfBounds, lat, lon)
	}
	return int(c), int(w), nil
}

// DensityAt implements domain.DensitySampler. Pixels holding the raster's
// no-data value (or NaN) return domain.ErrNoData.
func (r *Raster) DensityAt(lat, lon float64) (float64, error) {
	col, row, err := r.Pixel(lat, lon)
	if err != nil {
		return 0, err
	}
	v, err := r.Value(col, row)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || (r.hasNoData && v == r.noData) {
		return 0, domain.ErrNoData
	}
	return v, nil
}

// Value returns band 1 at pixel (col, row).
func (r *Raster) Value(col, row int) (float64, error) {
	if col < 0 || row < 0 || col >= r.width || row >= r.height {
		return 0, fmt.Errorf("%w: pixel %d,%d", ErrOutOfBounds, col, row)
	}
	bx, by := col/r.blockW, row/r.blockH
	block, err := r.block(by*r.across+bx, by)
	if err != nil {
		return 0, err
	}

	stride := r.sampleBytes
	if r.planar == 1 {
		stride *= r.spp
	}
	off := ((row-by*r.blockH)*r.blockW + (col - bx*r.blockW)) * stride
	if off+r.sampleBytes > len(block) {
		return 0, fmt.Errorf("block for pixel %d,%d is truncated", col, row)
	}
	return r.sample(block[off:]), nil
}

func (r *Raster) block(idx, by int) ([]byte, error) {
	if b, ok := r.cache.Get(idx); ok {
		r.metrics.RasterCache.WithLabelValues("hit").Inc()
		return b, nil
	}
	r.metrics.RasterCache.WithLabelValues("miss").Inc()

	rows := r.blockH
	if !r.tiled {
		rows = min(rows, r.height-by*r.blockH)
	}
	rowBytes := r.blockW * r.sampleBytes
	if r.planar == 1 {
		rowBytes *= r.spp
	}
	want := rows * rowBytes

	raw := make([]byte, r.counts[idx])
	if err := readFull(r.src, raw, int64(r.offsets[idx])); err != nil {
		return nil, fmt.Errorf("read block %d: %w", idx, err)
	}
	data, err := r.decompress(raw, want)
	if err != nil {
		return nil, fmt.Errorf("decode block %d: %w", idx, err)
	}
	if r.predictor == 2 {
		spp := r.spp
		if r.planar == 2 {
			spp = 1
		}
		undoHorizontalDiff(data, rowBytes, r.sampleBytes, spp, r.order)
	}
	r.cache.Add(idx, data)
	return data, nil
}

func (r *Raster) decompress(raw []byte, want int) ([]byte, error) {
	var rd io.Reader
	switch r.compression {
	case compressionNone:
		if len(raw) < want {
			return nil, fmt.Errorf("have %d bytes, need %d", len(raw), want)
		}
		return raw[:want], nil
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer lr.Close()
		rd = lr
	default:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		rd = zr
	}
	out := make([]byte, want)
	if _, err := io.ReadFull(rd, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Raster) sample(b []byte) float64 {
	switch r.format {
	case formatInt:
		switch r.sampleBytes {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(r.order.Uint16(b)))
		default:
			return float64(int32(r.order.Uint32(b)))
		}
	case formatFloat:
		if r.sampleBytes == 4 {
			return float64(math.Float32frombits(r.order.Uint32(b)))
		}
		return math.Float64frombits(r.order.Uint64(b))
	default:
		switch r.sampleBytes {
		case 1:
			return float64(b[0])
		case 2:
			return float64(r.order.Uint16(b))
		default:
			return float64(r.order.Uint32(b))
		}
	}
}

// undoHorizontalDiff reverses TIFF predictor 2 in place. Each sample is stored
// as the difference from the same channel of the previous pixel in the row.
func undoHorizontalDiff(data []byte, rowBytes, sampleBytes, spp int, order binary.ByteOrder) {
	step := sampleBytes * spp
	for start := 0; start+rowBytes <= len(data); start += rowBytes {
		row := data[start : start+rowBytes]
		for i := step; i+sampleBytes <= len(row); i += sampleBytes {
			switch sampleBytes {
			case 1:
				row[i] += row[i-step]
			case 2:
				order.PutUint16(row[i:], order.Uint16(row[i:])+order.Uint16(row[i-step:]))
			case 4:
				order.PutUint32(row[i:], order.Uint32(row[i:])+order.Uint32(row[i-step:]))
			case 8:
				order.PutUint64(row[i:], order.Uint64(row[i:])+order.Uint64(row[i-step:]))
			}
		}
	}
}

// Close releases the underlying file, if Open created one.
func (r *Raster) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
