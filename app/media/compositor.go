package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/lysyi3m/listing-comb/app/feed"
	_ "golang.org/x/image/webp"
)

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var _ ImageFetcher = (*Fetcher)(nil)

// Assets are the decorations configured for a profile.
type Assets struct {
	Overlays   []image.Image
	Collage    image.Image
	ShopImages []string
}

func LoadAssets(cfg feed.ImagesConfig) (*Assets, error) {
	assets := &Assets{ShopImages: cfg.ShopImages}

	for _, path := range cfg.Overlays {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open overlay %s: %w", path, err)
		}
		assets.Overlays = append(assets.Overlays, img)
	}

	if cfg.CollageImage != "" {
		img, err := imaging.Open(cfg.CollageImage, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("failed to open collage image %s: %w", cfg.CollageImage, err)
		}
		assets.Collage = img
	}

	for _, path := range cfg.ShopImages {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to stat shop image %s: %w", path, err)
		}
	}

	return assets, nil
}

type Compositor struct {
	cfg     feed.ImagesConfig
	assets  *Assets
	fetcher ImageFetcher
}

func NewCompositor(cfg feed.ImagesConfig, assets *Assets, fetcher ImageFetcher) *Compositor {
	if assets == nil {
		assets = &Assets{}
	}
	return &Compositor{cfg: cfg, assets: assets, fetcher: fetcher}
}

// Compose turns the raw image URLs of one listing into at most MaxSlots
// images. Failed images are logged and skipped. Remaining slots are filled
// with shop images, unless every feed image failed, so that the listing is
// picked up again by the next cycle.
func (c *Compositor) Compose(ctx context.Context, rawURLs []string, itemID string) []Ref {
	maxSlots := c.maxSlots()
	refs := make([]Ref, 0, maxSlots)

	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		slog.Error("Failed to create image output directory", "dir", c.cfg.OutputDir, "error", err)
		return refs
	}

	attempted := 0
	for i, rawURL := range rawURLs {
		if len(refs) >= maxSlots {
			break
		}
		if rawURL == "" {
			continue
		}
		if ctx.Err() != nil {
			return refs
		}

		attempted++
		ref, err := c.composeSlot(ctx, i, rawURL, itemID)
		if err != nil {
			slog.Warn("Image skipped", "item", itemID, "index", i, "url", rawURL, "error", err)
			continue
		}
		refs = append(refs, ref)
	}

	if attempted > 0 && len(refs) == 0 {
		return refs
	}

	for i, shopImage := range c.assets.ShopImages {
		if len(refs) >= maxSlots {
			break
		}
		path := filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%s_shop_%d.jpg", itemID, i+1))
		data, err := os.ReadFile(shopImage)
		if err == nil {
			err = c.writeJPEG(data, path)
		}
		if err != nil {
			slog.Warn("Shop image skipped", "item", itemID, "path", shopImage, "error", err)
			continue
		}
		refs = append(refs, Local(path))
	}

	return refs
}

func (c *Compositor) composeSlot(ctx context.Context, index int, rawURL, itemID string) (Ref, error) {
	path := filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%s_%d.jpg", itemID, index+1))

	useCollage := index == 0 && c.assets.Collage != nil
	useOverlay := !useCollage && index < c.overlayWindow() && len(c.assets.Overlays) > 0

	if !useCollage && !useOverlay && c.cfg.Passthrough == feed.PassthroughReference {
		return Remote(rawURL), nil
	}

	data, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Ref{}, err
	}

	if !useCollage && !useOverlay {
		if err := c.writeJPEG(data, path); err != nil {
			return Ref{}, err
		}
		return Local(path), nil
	}

	base, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Ref{}, fmt.Errorf("failed to decode image: %w", err)
	}

	var out image.Image
	if useCollage {
		out = Collage(base, c.assets.Collage, c.cfg.CollageGutter)
	} else {
		overlay := c.assets.Overlays[index%len(c.assets.Overlays)]
		out = Overlay(base, overlay, c.margin())
	}

	if err := imaging.Save(out, path, imaging.JPEGQuality(c.cfg.JPEGQuality)); err != nil {
		return Ref{}, fmt.Errorf("failed to save image: %w", err)
	}
	return Local(path), nil
}

// writeJPEG stores data verbatim when it already is a JPEG and re-encodes
// any other decodable format.
func (c *Compositor) writeJPEG(data []byte, path string) error {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	if format == "jpeg" {
		return os.WriteFile(path, data, 0644)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	return imaging.Save(flatten(img), path, imaging.JPEGQuality(c.cfg.JPEGQuality))
}

func (c *Compositor) maxSlots() int {
	if c.cfg.MaxSlots <= 0 || c.cfg.MaxSlots > feed.DefaultMaxSlots {
		return feed.DefaultMaxSlots
	}
	return c.cfg.MaxSlots
}

func (c *Compositor) overlayWindow() int {
	if c.cfg.OverlayWindow == nil {
		return feed.DefaultOverlayWindow
	}
	return *c.cfg.OverlayWindow
}

func (c *Compositor) margin() float64 {
	if c.cfg.BottomMargin == nil {
		return feed.DefaultBottomMargin
	}
	return *c.cfg.BottomMargin
}

// Overlay draws overlay over base at OverlayPlacement and returns an opaque
// image of the base size.
func Overlay(base, overlay image.Image, margin float64) *image.NRGBA {
	b := base.Bounds()
	o := overlay.Bounds()
	p := OverlayPlacement(b.Dx(), b.Dy(), o.Dx(), o.Dy(), margin)

	canvas := imaging.Clone(base)
	if p.Width > 0 && p.Height > 0 {
		resized := imaging.Resize(overlay, p.Width, p.Height, imaging.Lanczos)
		canvas = imaging.Overlay(canvas, resized, image.Pt(p.X, p.Y), 1.0)
	}
	return flatten(canvas)
}

// Collage places shop to the right of base on a white canvas.
func Collage(base, shop image.Image, gutter int) *image.NRGBA {
	b := base.Bounds()
	s := shop.Bounds()
	width, height, p := CollageLayout(b.Dx(), b.Dy(), s.Dx(), s.Dy(), gutter)

	canvas := imaging.New(width, height, color.White)
	canvas = imaging.Overlay(canvas, base, image.Pt(0, 0), 1.0)
	if p.Width > 0 && p.Height > 0 {
		resized := imaging.Resize(shop, p.Width, p.Height, imaging.Lanczos)
		canvas = imaging.Overlay(canvas, resized, image.Pt(p.X, p.Y), 1.0)
	}
	return canvas
}

func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	background := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}
