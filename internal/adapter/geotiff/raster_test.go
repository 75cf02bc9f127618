package geotiff

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridImage is a 4x3 raster at 10E 20N with half-degree pixels. Pixel (c, r)
// holds r*10 + c.
func gridImage() Image {
	img := Image{
		Width: 4, Height: 3,
		OriginLon: 10, OriginLat: 20,
		PixelWidth: 0.5, PixelHeight: 0.5,
	}
	for r := range img.Height {
		for c := range img.Width {
			img.Values = append(img.Values, float64(r*10+c))
		}
	}
	return img
}

func encodeRaster(t *testing.T, img Image, opts EncodeOptions) *Raster {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, img, opts))
	r, err := New(bytes.NewReader(buf.Bytes()), 4, observability.NewMetricsForTesting())
	require.NoError(t, err)
	return r
}

func assertGrid(t *testing.T, r *Raster, img Image) {
	t.Helper()
	for row := range img.Height {
		for col := range img.Width {
			v, err := r.Value(col, row)
			require.NoError(t, err)
			assert.InDelta(t, img.Values[row*img.Width+col], v, 1e-9, "pixel %d,%d", col, row)
		}
	}
}

func TestDensityAt_PixelMath(t *testing.T) {
	r := encodeRaster(t, gridImage(), EncodeOptions{})

	tests := []struct {
		name     string
		lat, lon float64
		want     float64
	}{
		{"upper-left corner", 20, 10, 0},
		{"inside first pixel", 19.9, 10.1, 0},
		{"floors to col 2 row 1", 19.4, 11.2, 12},
		{"last pixel", 18.51, 11.99, 23},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.DensityAt(tt.lat, tt.lon)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDensityAt_OutOfBounds(t *testing.T) {
	r := encodeRaster(t, gridImage(), EncodeOptions{})

	for _, p := range [][2]float64{
		{20.01, 10.5}, // north of origin
		{19.5, 9.99},  // west of origin
		{19.5, 12.0},  // east edge is exclusive
		{18.5, 10.5},  // south edge is exclusive
		{math.NaN(), 10},
	} {
		_, err := r.DensityAt(p[0], p[1])
		require.ErrorIs(t, err, ErrOutOfBounds, "lat %v lon %v", p[0], p[1])
	}
}

func TestDensityAt_NoData(t *testing.T) {
	img := gridImage()
	nodata := -3.4028234663852886e+38
	img.NoData = &nodata
	img.Values[0] = nodata
	img.Values[1] = math.NaN()
	r := encodeRaster(t, img, EncodeOptions{})

	_, err := r.DensityAt(19.9, 10.1)
	require.ErrorIs(t, err, domain.ErrNoData)

	_, err = r.DensityAt(19.9, 10.6)
	require.ErrorIs(t, err, domain.ErrNoData, "NaN counts as no data")

	v, err := r.DensityAt(19.9, 11.1)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestDensityAt_IntegerNoData(t *testing.T) {
	img := gridImage()
	nodata := -9999.0
	img.NoData = &nodata
	img.Values[5] = nodata
	r := encodeRaster(t, img, EncodeOptions{SampleType: Int32})

	col, row, err := r.Pixel(19.4, 10.6)
	require.NoError(t, err)
	assert.Equal(t, 1, col)
	assert.Equal(t, 1, row)

	_, err = r.DensityAt(19.4, 10.6)
	require.ErrorIs(t, err, domain.ErrNoData)
}

func TestRaster_Layouts(t *testing.T) {
	img := gridImage()
	for i := range img.Values {
		img.Values[i] *= 3
	}

	tests := []struct {
		name string
		opts EncodeOptions
	}{
		{"float32 single strip", EncodeOptions{}},
		{"float64 big endian", EncodeOptions{SampleType: Float64, ByteOrder: binary.BigEndian}},
		{"uint8 one row per strip", EncodeOptions{SampleType: Uint8, RowsPerStrip: 1}},
		{"uint16 deflate predictor", EncodeOptions{SampleType: Uint16, Deflate: true, Predictor: true}},
		{"uint16 big endian predictor", EncodeOptions{SampleType: Uint16, ByteOrder: binary.BigEndian, Predictor: true}},
		{"uint32 strips of two", EncodeOptions{SampleType: Uint32, RowsPerStrip: 2}},
		{"int16 tiles", EncodeOptions{SampleType: Int16, TileSize: 2}},
		{"float32 deflate tiles", EncodeOptions{Deflate: true, TileSize: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := encodeRaster(t, img, tt.opts)
			w, h := r.Size()
			assert.Equal(t, 4, w)
			assert.Equal(t, 3, h)
			assertGrid(t, r, img)
		})
	}
}

func TestRaster_NegativeIntegers(t *testing.T) {
	img := gridImage()
	for i := range img.Values {
		img.Values[i] = -img.Values[i]
	}
	r := encodeRaster(t, img, EncodeOptions{SampleType: Int16, Predictor: true})
	assertGrid(t, r, img)
}

func TestRaster_LZW(t *testing.T) {
	// A few bytes of input keep the code width at 9 bits, where compress/lzw
	// and TIFF's early-change variant produce the same stream.
	opts := EncodeOptions{
		SampleType:     Uint8,
		compressionTag: compressionLZW,
		compress: func(b []byte) ([]byte, error) {
			var buf bytes.Buffer
			w := lzw.NewWriter(&buf, lzw.MSB, 8)
			if _, err := w.Write(b); err != nil {
				return nil, err
			}
			if err := w.Close(); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	}
	img := gridImage()
	r := encodeRaster(t, img, opts)
	assertGrid(t, r, img)
}

func TestRaster_BlockCacheMetrics(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, gridImage(), EncodeOptions{RowsPerStrip: 1}))
	metrics := observability.NewMetricsForTesting()
	r, err := New(bytes.NewReader(buf.Bytes()), 2, metrics)
	require.NoError(t, err)

	_, err = r.Value(0, 0)
	require.NoError(t, err)
	_, err = r.Value(3, 0)
	require.NoError(t, err)
	_, err = r.Value(0, 2)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RasterCache.WithLabelValues("hit")), 0.0001)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.RasterCache.WithLabelValues("miss")), 0.0001)
}

func TestNew_MissingGeoTags(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, gridImage(), EncodeOptions{skipGeoTags: true}))

	_, err := New(bytes.NewReader(buf.Bytes()), 0, observability.NewMetricsForTesting())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tie points")
}

func TestNew_RejectsNonTIFF(t *testing.T) {
	metrics := observability.NewMetricsForTesting()

	_, err := New(bytes.NewReader([]byte("PK\x03\x04zipfile")), 0, metrics)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a TIFF")

	_, err = New(bytes.NewReader([]byte{'I', 'I', 43, 0, 8, 0, 0, 0}), 0, metrics)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BigTIFF")

	_, err = New(bytes.NewReader([]byte("II")), 0, metrics)
	require.Error(t, err)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pop_density.tif")
	require.NoError(t, WriteFile(path, gridImage(), EncodeOptions{Deflate: true}))

	r, err := Open(path, 0, observability.NewMetricsForTesting())
	require.NoError(t, err)
	defer r.Close()

	v, err := r.DensityAt(19.4, 11.2)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, v, 1e-9)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.tif"), 0, observability.NewMetricsForTesting())
	require.Error(t, err)
}

func TestEncode_Validation(t *testing.T) {
	var buf bytes.Buffer
	img := gridImage()
	img.Values = img.Values[:3]
	require.Error(t, Encode(&buf, img, EncodeOptions{}))

	img = gridImage()
	img.PixelWidth = 0
	require.Error(t, Encode(&buf, img, EncodeOptions{}))
}
