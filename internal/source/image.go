package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/draw"

	pperrors "github.com/conneroisu/pagepack/internal/errors"
	"github.com/conneroisu/pagepack/internal/metrics"
	"github.com/conneroisu/pagepack/internal/specificity"
)

// ImagePath is where the image optimizer is served.
const ImagePath = "/_pagepack/image"

// Image query parameters.
const (
	ImageParamURL     = "url"
	ImageParamWidth   = "w"
	ImageParamQuality = "q"
)

var imageVary = Vary{Query: &Filter{Keys: []string{ImageParamURL, ImageParamQuality, ImageParamWidth}}}

// ImageSource optimizes images from Assets on demand. It needs the url, w
// and q query parameters; an absolute url is redirected to rather than
// fetched.
type ImageSource struct {
	Assets    ContentSource
	Processor *ImageProcessor
	// DefaultQuality applies when q is absent.
	DefaultQuality int
}

// Get implements ContentSource.
func (s *ImageSource) Get(_ context.Context, p string, data Data) (Result, error) {
	if p != ImagePath {
		return NotFound{}, nil
	}
	if !data.Has(imageVary) {
		return NeedData{Vary: imageVary}, nil
	}

	target := data.Query.Get(ImageParamURL)
	if target == "" {
		return badRequest(`"url" parameter is required`), nil
	}
	width, err := strconv.Atoi(data.Query.Get(ImageParamWidth))
	if err != nil || width <= 0 {
		return badRequest(`"w" parameter (width) must be a positive integer`), nil
	}
	quality := s.DefaultQuality
	if quality == 0 {
		quality = 75
	}
	if q := data.Query.Get(ImageParamQuality); q != "" {
		quality, err = strconv.Atoi(q)
		if err != nil || quality < 1 || quality > 100 {
			return badRequest(`"q" parameter (quality) must be an integer between 1 and 100`), nil
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return badRequest(`"url" parameter is invalid`), nil
	}
	if u.IsAbs() {
		return Found{
			Specificity: specificity.Exact(),
			Content: Proxy{
				Status:  http.StatusFound,
				Headers: http.Header{"Location": []string{u.String()}},
			},
		}, nil
	}
	if !strings.HasPrefix(u.Path, "/") {
		return badRequest(`"url" parameter must be absolute or start with "/"`), nil
	}

	return Found{
		Specificity: specificity.Exact(),
		Content: Rewrite{
			Path:     u.Path,
			RawQuery: u.RawQuery,
			Source: &Wrapped{
				Source:    s.Assets,
				Processor: s.Processor.For(width, quality),
			},
		},
	}, nil
}

func badRequest(msg string) Result {
	return Found{
		Specificity: specificity.Exact(),
		Content: Static{
			Status:      http.StatusBadRequest,
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(msg),
		},
	}
}

// DefaultMaxPixels bounds the decoded size of a source image, about 256MiB
// as RGBA.
const DefaultMaxPixels = 64 << 20

// ImageProcessor resizes and re-encodes images, caching results by input
// digest, width and quality.
type ImageProcessor struct {
	cache     *lru.Cache[string, []byte]
	maxWidth  int
	maxPixels int64
	metrics   *metrics.Metrics
}

// ImageOption configures an ImageProcessor.
type ImageOption func(*ImageProcessor)

// WithMaxPixels rejects source images with more than n pixels. n < 1 keeps
// DefaultMaxPixels.
func WithMaxPixels(n int64) ImageOption {
	return func(p *ImageProcessor) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

// NewImageProcessor creates a processor caching up to size results. Widths
// are clamped to maxWidth when it is positive.
func NewImageProcessor(size, maxWidth int, m *metrics.Metrics, opts ...ImageOption) (*ImageProcessor, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, pperrors.NewConfigError(pperrors.ErrCodeConfigInvalid, "invalid image cache size").WithContext("size", size)
	}
	p := &ImageProcessor{cache: cache, maxWidth: maxWidth, maxPixels: DefaultMaxPixels, metrics: m}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Len returns the number of cached results.
func (p *ImageProcessor) Len() int { return p.cache.Len() }

// For returns a Processor producing images at most width pixels wide.
func (p *ImageProcessor) For(width, quality int) Processor {
	if p.maxWidth > 0 && width > p.maxWidth {
		width = p.maxWidth
	}
	return ProcessorFunc(func(_ context.Context, content Content, _ Data) (Content, error) {
		static, ok := content.(Static)
		if !ok || static.Status != http.StatusOK {
			return content, nil
		}
		if !strings.HasPrefix(static.ContentType, "image/") || static.ContentType == "image/svg+xml" {
			return content, nil
		}
		body, contentType, err := p.optimize(static.Body, width, quality)
		if err != nil {
			return nil, err
		}
		return Static{
			Status:      http.StatusOK,
			ContentType: contentType,
			Headers:     http.Header{"Cache-Control": []string{"public, max-age=0, must-revalidate"}},
			Body:        body,
		}, nil
	})
}

func (p *ImageProcessor) optimize(body []byte, width, quality int) ([]byte, string, error) {
	sum := sha256.Sum256(body)
	key := fmt.Sprintf("%s:%d:%d", hex.EncodeToString(sum[:]), width, quality)
	if cached, ok := p.cache.Get(key); ok {
		p.metrics.ImageCache(true)
		return cached, http.DetectContentType(cached), nil
	}
	p.metrics.ImageCache(false)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, "", pperrors.NewBuildError(pperrors.ErrCodeBuildFailed, "failed to decode image", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxPixels {
		return nil, "", pperrors.NewBuildError(pperrors.ErrCodeBuildFailed,
			fmt.Sprintf("image too large to optimize: %dx%d exceeds %d pixels", cfg.Width, cfg.Height, p.maxPixels), nil)
	}

	src, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, "", pperrors.NewBuildError(pperrors.ErrCodeBuildFailed, "failed to decode image", err)
	}

	img := src
	if b := src.Bounds(); b.Dx() > width {
		height := b.Dy() * width / b.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	contentType := "image/png"
	if format == "jpeg" {
		contentType = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, "", pperrors.NewBuildError(pperrors.ErrCodeBuildFailed, "failed to encode image", err)
	}

	out := buf.Bytes()
	p.cache.Add(key, out)
	return out, contentType, nil
}
