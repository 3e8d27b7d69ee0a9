package sensitivity

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	skinColor        = color.NRGBA{R: 200, G: 130, B: 110, A: 255}
	blueColor        = color.NRGBA{R: 0, G: 0, B: 255, A: 255}
	transparentColor = color.NRGBA{R: 200, G: 130, B: 110, A: 0}
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestIsSkinTone(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		want    bool
	}{
		{"canonical mid-tone", 200, 130, 110, true},
		{"too dark red", 59, 45, 30, false},
		{"too dark green", 200, 39, 30, false},
		{"too dark blue", 200, 130, 19, false},
		{"green dominant", 120, 200, 100, false},
		{"blue dominant", 120, 100, 200, false},
		{"red equals green", 150, 150, 100, false},
		{"pure blue", 0, 0, 255, false},
		{"white", 255, 255, 255, false},
		{"saturated red outside cr box", 250, 40, 30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSkinTone(tt.r, tt.g, tt.b))
		})
	}
}

func TestAnalyzeImage_SolidSkin(t *testing.T) {
	c := Default()
	res := c.AnalyzeImage(solidImage(64, 64, skinColor))
	assert.True(t, res.Sensitive)
	assert.Equal(t, 1.0, res.Score)
}

func TestAnalyzeImage_SolidSkinDownsampled(t *testing.T) {
	c := Default()
	res := c.AnalyzeImage(solidImage(640, 480, skinColor))
	assert.True(t, res.Sensitive)
	assert.Equal(t, 1.0, res.Score)
}

func TestAnalyzeImage_SolidBlue(t *testing.T) {
	c := Default()
	res := c.AnalyzeImage(solidImage(64, 64, blueColor))
	assert.False(t, res.Sensitive)
	assert.Equal(t, 0.0, res.Score)
}

func TestAnalyzeImage_Transparent(t *testing.T) {
	c := Default()
	res := c.AnalyzeImage(solidImage(64, 64, transparentColor))
	assert.False(t, res.Sensitive)
	assert.Equal(t, 0.0, res.Score)
}

func TestAnalyzeImage_TooFewSampledPixels(t *testing.T) {
	c := Default()
	// 10x10 pixels sampled every other pixel yields 50 samples
	res := c.AnalyzeImage(solidImage(10, 10, skinColor))
	assert.False(t, res.Sensitive)
	assert.Equal(t, 1.0, res.Score)
}

func TestAnalyzeImage_RatioBelowThreshold(t *testing.T) {
	img := solidImage(64, 64, blueColor)
	// a quarter of the rows are skin
	for y := 0; y < 16; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, skinColor)
		}
	}

	res := Default().AnalyzeImage(img)
	assert.False(t, res.Sensitive)
	assert.InDelta(t, 0.25, res.Score, 0.0001)
}

func TestAnalyzeImage_RatioAtThreshold(t *testing.T) {
	img := solidImage(64, 64, blueColor)
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, skinColor)
		}
	}

	res := Default().AnalyzeImage(img)
	assert.True(t, res.Sensitive)
	assert.InDelta(t, 0.5, res.Score, 0.0001)
}

func TestAnalyzeImage_PartiallyTransparentExcluded(t *testing.T) {
	img := solidImage(64, 64, transparentColor)
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, skinColor)
		}
	}

	res := Default().AnalyzeImage(img)
	assert.True(t, res.Sensitive)
	assert.Equal(t, 1.0, res.Score)
}

func TestAnalyzeImage_Nil(t *testing.T) {
	res := Default().AnalyzeImage(nil)
	assert.Equal(t, Result{}, res)
}

func TestAnalyzeImage_EmptyBounds(t *testing.T) {
	res := Default().AnalyzeImage(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.Equal(t, Result{}, res)
}

func TestAnalyzeBytes_PNG(t *testing.T) {
	res := Default().AnalyzeBytes(encodePNG(t, solidImage(128, 96, skinColor)))
	assert.True(t, res.Sensitive)
	assert.Equal(t, 1.0, res.Score)
}

func TestAnalyzeBytes_JPEG(t *testing.T) {
	res := Default().AnalyzeBytes(encodeJPEG(t, solidImage(256, 256, skinColor)))
	assert.True(t, res.Sensitive)
	assert.Greater(t, res.Score, 0.9)
}

func TestAnalyzeBytes_Corrupt(t *testing.T) {
	c := Default()
	assert.Equal(t, Result{}, c.AnalyzeBytes([]byte("definitely not an image")))
	assert.Equal(t, Result{}, c.AnalyzeBytes(nil))

	b := encodeJPEG(t, solidImage(64, 64, skinColor))
	assert.Equal(t, Result{}, c.AnalyzeBytes(b[:len(b)/3]))
}

func TestAnalyzeBase64(t *testing.T) {
	b := encodePNG(t, solidImage(64, 64, skinColor))
	data := base64.StdEncoding.EncodeToString(b)
	c := Default()

	t.Run("declared mime", func(t *testing.T) {
		res := c.AnalyzeBase64(data, "image/png")
		assert.True(t, res.Sensitive)
		assert.Equal(t, 1.0, res.Score)
	})

	t.Run("data uri", func(t *testing.T) {
		res := c.AnalyzeBase64("data:image/png;base64,"+data, "")
		assert.True(t, res.Sensitive)
	})

	t.Run("non image mime", func(t *testing.T) {
		assert.Equal(t, Result{}, c.AnalyzeBase64(data, "application/pdf"))
	})

	t.Run("bad base64", func(t *testing.T) {
		assert.Equal(t, Result{}, c.AnalyzeBase64("%%%not-base64%%%", "image/png"))
	})
}

func TestAnalyzeFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "skin.png")
	require.NoError(t, os.WriteFile(p, encodePNG(t, solidImage(64, 64, skinColor)), 0600))

	c := Default()
	res := c.AnalyzeFile(p)
	assert.True(t, res.Sensitive)
	assert.Equal(t, 1.0, res.Score)

	assert.Equal(t, Result{}, c.AnalyzeFile(filepath.Join(dir, "missing.jpg")))
}

func TestAnalyze_Idempotent(t *testing.T) {
	img := solidImage(97, 61, blueColor)
	for y := 0; y < 61; y += 3 {
		for x := 0; x < 97; x++ {
			img.SetNRGBA(x, y, skinColor)
		}
	}
	b := encodeJPEG(t, img)

	c := Default()
	first := c.AnalyzeBytes(b)
	second := c.AnalyzeBytes(b)
	assert.Equal(t, first, second)
}

func TestAnalyze_ScoreBounds(t *testing.T) {
	c := Default()
	inputs := []image.Image{
		solidImage(64, 64, skinColor),
		solidImage(64, 64, blueColor),
		solidImage(64, 64, transparentColor),
		solidImage(1, 300, skinColor),
		solidImage(300, 1, skinColor),
	}
	for _, img := range inputs {
		res := c.AnalyzeImage(img)
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	c := New(Config{})
	cfg := c.Config()
	assert.Equal(t, SampleSizeDefault, cfg.SampleSize)
	assert.Equal(t, PixelStrideDefault, cfg.PixelStride)
	assert.Equal(t, int64(MaxSourcePixelsDefault), cfg.MaxSourcePixels)

	assert.Equal(t, DefaultConfig(), Default().Config())

	cfg = DefaultConfig()
	cfg.SampleSize = 32
	cfg.SkinRatioThreshold = 0.5
	cfg = New(cfg).Config()
	assert.Equal(t, 32, cfg.SampleSize)
	assert.Equal(t, 0.5, cfg.SkinRatioThreshold)
	assert.Equal(t, MinSampledPixelsDefault, cfg.MinSampledPixels)
}

func TestNew_ZeroValuesHonored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinAlpha = 0
	cfg.SkinRatioThreshold = 0
	c := New(cfg)

	assert.Equal(t, uint8(0), c.Config().MinAlpha)
	assert.Equal(t, 0.0, c.Config().SkinRatioThreshold)

	// a zero threshold flags anything with enough samples
	res := c.AnalyzeImage(solidImage(64, 64, blueColor))
	assert.True(t, res.Sensitive)
	assert.Equal(t, 0.0, res.Score)
}

func TestNew_CustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleSize = 32
	cfg.MinSampledPixels = 1000

	// 32x32 yields 512 samples
	res := New(cfg).AnalyzeImage(solidImage(64, 64, skinColor))
	assert.False(t, res.Sensitive)
	assert.Equal(t, 1.0, res.Score)
}

// hugePNG returns a small PNG whose header declares a w x h grayscale image
// followed by a single row of pixel data.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := func(typ string, data []byte) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(data)))
		buf.Write(n[:])
		crc := crc32.NewIEEE()
		crc.Write([]byte(typ))
		crc.Write(data)
		buf.WriteString(typ)
		buf.Write(data)
		binary.BigEndian.PutUint32(n[:], crc.Sum32())
		buf.Write(n[:])
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth, color type 0 (gray)
	chunk("IHDR", ihdr)

	var idat bytes.Buffer
	zw := zlib.NewWriter(&idat)
	_, err := zw.Write(make([]byte, 1+int(w)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	chunk("IDAT", idat.Bytes())
	chunk("IEND", nil)

	return buf.Bytes()
}

func TestAnalyzeBytes_OversizedHeaderNotDecoded(t *testing.T) {
	b := hugePNG(t, 20000, 20000)
	require.Less(t, len(b), 1<<20)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	res := Default().AnalyzeBytes(b)
	runtime.ReadMemStats(&after)

	assert.Equal(t, Result{}, res)
	// decoding would allocate the full 400MB gray buffer
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestAnalyzeBytes_MaxSourcePixels(t *testing.T) {
	b := encodePNG(t, solidImage(64, 64, skinColor))

	cfg := DefaultConfig()
	cfg.MaxSourcePixels = 64 * 64
	assert.True(t, New(cfg).AnalyzeBytes(b).Sensitive)

	cfg.MaxSourcePixels = 64*64 - 1
	assert.Equal(t, Result{}, New(cfg).AnalyzeBytes(b))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{SkinRatioThreshold: 1.5}.Validate())
	assert.Error(t, Config{SkinRatioThreshold: -0.1}.Validate())
	assert.Error(t, Config{MinSampledPixels: -1}.Validate())
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{PixelStride: 6}.Validate())
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, size int
		ew, eh     int
	}{
		{64, 64, 64, 64, 64},
		{10, 20, 64, 10, 20},
		{640, 480, 64, 64, 48},
		{480, 640, 64, 48, 64},
		{1000, 1, 64, 64, 1},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, tt.size)
		assert.Equal(t, tt.ew, w)
		assert.Equal(t, tt.eh, h)
	}
}
