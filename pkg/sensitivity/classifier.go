// Package sensitivity flags potentially explicit photos with a skin-tone
// heuristic in YCbCr space. Classification is best effort and fails open.
package sensitivity

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"log/slog"
	"os"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	SampleSizeDefault         = 64
	SkinRatioThresholdDefault = 0.35
	MinSampledPixelsDefault   = 120
	PixelStrideDefault        = 8
	MinAlphaDefault           = 16
	MaxSourcePixelsDefault    = 50_000_000

	bytesPerPixel = 4
	dataURIPrefix = "data:"
	base64Marker  = ";base64,"
)

var (
	errEmptyInput   = errors.New("empty image input")
	errInvalidMime  = errors.New("mime type is not an image")
	errEmptyBounds  = errors.New("image has no pixels")
	errTooLarge     = errors.New("image dimensions exceed limit")
	errInvalidSetup = errors.New("invalid classifier config")
)

// Result is the outcome of a single classification.
type Result struct {
	Sensitive bool    `json:"sensitive" yaml:"sensitive"`
	Score     float64 `json:"score" yaml:"score"`
}

// Config holds the tunable parameters of the skin-tone heuristic. Start from
// DefaultConfig: zero SampleSize, PixelStride and MaxSourcePixels take their
// defaults, every other field is used as given, including zero.
type Config struct {
	// SampleSize caps the longer edge of the downsampled copy.
	SampleSize int `json:"sample_size" yaml:"sample_size" env:"SAMPLE_SIZE"`
	// SkinRatioThreshold is the minimal skin/sampled ratio to flag an image.
	SkinRatioThreshold float64 `json:"skin_ratio_threshold" yaml:"skin_ratio_threshold" env:"SKIN_RATIO_THRESHOLD"`
	// MinSampledPixels is the minimal number of sampled pixels to flag an image.
	MinSampledPixels int `json:"min_sampled_pixels" yaml:"min_sampled_pixels" env:"MIN_SAMPLED_PIXELS"`
	// PixelStride is the step in bytes over the RGBA buffer.
	PixelStride int `json:"pixel_stride" yaml:"pixel_stride" env:"PIXEL_STRIDE"`
	// MinAlpha excludes pixels below this opacity from the sample. 0 samples every pixel.
	MinAlpha uint8 `json:"min_alpha" yaml:"min_alpha" env:"MIN_ALPHA"`
	// MaxSourcePixels caps width*height read from the image header before decoding.
	MaxSourcePixels int64 `json:"max_source_pixels" yaml:"max_source_pixels" env:"MAX_SOURCE_PIXELS"`
}

// DefaultConfig returns the default classifier parameters.
func DefaultConfig() Config {
	return Config{
		SampleSize:         SampleSizeDefault,
		SkinRatioThreshold: SkinRatioThresholdDefault,
		MinSampledPixels:   MinSampledPixelsDefault,
		PixelStride:        PixelStrideDefault,
		MinAlpha:           MinAlphaDefault,
		MaxSourcePixels:    MaxSourcePixelsDefault,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleSize <= 0 {
		c.SampleSize = d.SampleSize
	}
	if c.PixelStride <= 0 {
		c.PixelStride = d.PixelStride
	}
	if c.MaxSourcePixels <= 0 {
		c.MaxSourcePixels = d.MaxSourcePixels
	}
	return c
}

// Validate checks the config for values that can't produce a meaningful result.
func (c Config) Validate() error {
	if c.SkinRatioThreshold < 0 || c.SkinRatioThreshold > 1 {
		return fmt.Errorf("%w: skin ratio threshold %f outside [0,1]", errInvalidSetup, c.SkinRatioThreshold)
	}
	if c.MinSampledPixels < 0 {
		return fmt.Errorf("%w: negative min sampled pixels %d", errInvalidSetup, c.MinSampledPixels)
	}
	if c.PixelStride > 0 && c.PixelStride%bytesPerPixel != 0 {
		return fmt.Errorf("%w: pixel stride %d is not a multiple of %d", errInvalidSetup, c.PixelStride, bytesPerPixel)
	}
	return nil
}

// Classifier flags images dominated by skin-toned pixels.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	cfg Config
}

// New creates a classifier with the provided config.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

// Default creates a classifier with the default config.
func Default() *Classifier {
	return New(DefaultConfig())
}

// Config returns the effective config of the classifier.
func (c *Classifier) Config() Config {
	return c.cfg
}

// AnalyzeFile classifies the image stored at path.
func (c *Classifier) AnalyzeFile(path string) Result {
	b, err := os.ReadFile(path)
	if err != nil {
		return failOpen(fmt.Errorf("reading image file %s: %w", path, err))
	}
	return c.AnalyzeBytes(b)
}

// AnalyzeBase64 classifies an inline base64 payload. A data URI prefix is tolerated.
func (c *Classifier) AnalyzeBase64(data, mimeType string) Result {
	payload, mt := splitDataURI(data)
	if mimeType == "" {
		mimeType = mt
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/") {
		return failOpen(fmt.Errorf("%w: %q", errInvalidMime, mimeType))
	}

	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return failOpen(fmt.Errorf("decoding base64 payload: %w", err))
	}
	return c.AnalyzeBytes(b)
}

// AnalyzeBytes decodes encoded image bytes with the registered codecs and classifies them.
// Images whose header declares more than MaxSourcePixels are not decoded.
func (c *Classifier) AnalyzeBytes(b []byte) Result {
	if len(b) == 0 {
		return failOpen(errEmptyInput)
	}

	hdr, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return failOpen(fmt.Errorf("decoding image header: %w", err))
	}
	if px := int64(hdr.Width) * int64(hdr.Height); px > c.cfg.MaxSourcePixels {
		return failOpen(fmt.Errorf("%w: %dx%d", errTooLarge, hdr.Width, hdr.Height))
	}

	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return failOpen(fmt.Errorf("decoding image: %w", err))
	}
	slog.Debug("image decoded", "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	return c.AnalyzeImage(img)
}

// AnalyzeImage draws img onto a downsampled RGBA canvas and classifies its pixels.
func (c *Classifier) AnalyzeImage(img image.Image) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failOpen(fmt.Errorf("panic while classifying image: %v", r))
		}
	}()

	if img == nil {
		return failOpen(errEmptyInput)
	}

	canvas, err := downsample(img, c.cfg.SampleSize)
	if err != nil {
		return failOpen(err)
	}

	return c.classifyPixels(canvas.Pix)
}

func (c *Classifier) classifyPixels(pix []byte) Result {
	var sampled, skin int
	for i := 0; i+bytesPerPixel <= len(pix); i += c.cfg.PixelStride {
		r, g, b, a := pix[i], pix[i+1], pix[i+2], pix[i+3]
		if a < c.cfg.MinAlpha {
			continue
		}
		sampled++
		if IsSkinTone(r, g, b) {
			skin++
		}
	}

	var ratio float64
	if sampled > 0 {
		ratio = float64(skin) / float64(sampled)
	}

	return Result{
		Sensitive: sampled >= c.cfg.MinSampledPixels && ratio >= c.cfg.SkinRatioThreshold,
		Score:     ratio,
	}
}

// IsSkinTone reports whether the color falls into the skin range:
// red-dominant, not too dark, and inside the Cb/Cr box of BT.601.
func IsSkinTone(r, g, b uint8) bool {
	if r < 60 || g < 40 || b < 20 {
		return false
	}
	if r <= g || r <= b {
		return false
	}

	rf, gf, bf := float64(r), float64(g), float64(b)
	cb := 128 - 0.168736*rf - 0.331364*gf + 0.5*bf
	cr := 128 + 0.5*rf - 0.418688*gf - 0.081312*bf

	return cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173
}

// downsample returns a non-premultiplied copy of img whose longer edge is
// at most size pixels. Smaller images are copied as is.
func downsample(img image.Image, size int) (*image.NRGBA, error) {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()
	if w <= 0 || h <= 0 {
		return nil, errEmptyBounds
	}

	tw, th := fitWithin(w, h, size)
	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))

	if tw == w && th == h {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
		return dst, nil
	}

	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst, nil
}

func fitWithin(w, h, size int) (int, int) {
	if w <= size && h <= size {
		return w, h
	}
	if w >= h {
		return size, max(1, (h*size+w/2)/w)
	}
	return max(1, (w*size+h/2)/h), size
}

func splitDataURI(s string) (payload, mimeType string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, dataURIPrefix) {
		return s, ""
	}
	i := strings.Index(s, base64Marker)
	if i < 0 {
		return s, ""
	}
	return s[i+len(base64Marker):], s[len(dataURIPrefix):i]
}

func failOpen(err error) Result {
	slog.Debug("image classification failed, treating as not sensitive", "error", err)
	return Result{}
}
