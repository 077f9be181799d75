// Package preprocess turns uploaded image bytes into the float tensor a
// classifier expects: 3-channel RGB, fixed size, values in [0,1], batch of one.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

const channels = 3

// DefaultMaxPixels caps the decoded frame size. Larger images are rejected
// before their pixels are allocated.
const DefaultMaxPixels = 2 * 89_478_485

// Layout is the memory layout of the produced tensor.
type Layout string

const (
	// NHWC is batch, height, width, channels.
	NHWC Layout = "nhwc"

	// NCHW is batch, channels, height, width.
	NCHW Layout = "nchw"
)

// Spec describes the tensor a model expects.
type Spec struct {
	Width  int
	Height int
	Layout Layout

	// MaxPixels limits the decoded image; zero means DefaultMaxPixels.
	MaxPixels int
}

// DefaultSpec is 224x224 NHWC, the input of the retinopathy classifiers.
func DefaultSpec() Spec {
	return Spec{Width: 224, Height: 224, Layout: NHWC}
}

// Shape returns the tensor shape for the spec, batch dimension included.
func (s Spec) Shape() []int64 {
	if s.Layout == NCHW {
		return []int64{1, channels, int64(s.Height), int64(s.Width)}
	}
	return []int64{1, int64(s.Height), int64(s.Width), channels}
}

// Validate checks that the spec can be produced.
func (s Spec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidSpec, s.Width, s.Height)
	}
	if s.Layout != NHWC && s.Layout != NCHW {
		return fmt.Errorf("%w: layout %q", ErrInvalidSpec, s.Layout)
	}
	if s.MaxPixels < 0 {
		return fmt.Errorf("%w: max pixels %d", ErrInvalidSpec, s.MaxPixels)
	}
	return nil
}

func (s Spec) maxPixels() int64 {
	if s.MaxPixels == 0 {
		return DefaultMaxPixels
	}
	return int64(s.MaxPixels)
}

func checkPixels(width, height int, limit int64) error {
	if n := int64(width) * int64(height); n > limit {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, width, height, limit)
	}
	return nil
}

// Tensor is a dense float32 tensor.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Decode decodes image bytes in any registered format. The header is read
// first and images over maxPixels fail with ErrTooLarge without being decoded.
func Decode(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, "", err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return img, format, nil
}

// Normalize decodes data and converts it into a tensor for spec.
func Normalize(data []byte, spec Spec) (*Tensor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	img, _, err := Decode(data, spec.maxPixels())
	if err != nil {
		return nil, err
	}

	return NormalizeImage(img, spec)
}

// NormalizeImage converts img into a tensor for spec. The image is coerced to
// RGB, resized with bicubic resampling to exactly Width x Height without
// preserving the aspect ratio, and scaled from [0,255] to [0,1].
func NormalizeImage(img image.Image, spec Spec) (*Tensor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	if err := checkPixels(b.Dx(), b.Dy(), spec.maxPixels()); err != nil {
		return nil, err
	}

	rgb := toRGB(img)
	resized := rgb
	if b.Dx() != spec.Width || b.Dy() != spec.Height {
		resized = asRGBA(resize.Resize(uint(spec.Width), uint(spec.Height), rgb, resize.Bicubic))
	}

	w, h := spec.Width, spec.Height
	plane := w * h
	data := make([]float32, channels*plane)

	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < channels; c++ {
				v := float32(px[c]) / 255.0
				if spec.Layout == NCHW {
					data[c*plane+y*w+x] = v
				} else {
					data[(y*w+x)*channels+c] = v
				}
			}
		}
	}

	return &Tensor{Shape: spec.Shape(), Data: data}, nil
}

// toRGB copies img into an opaque RGBA image anchored at the origin. Alpha is
// discarded rather than composited, so the color channels keep their
// unpremultiplied values.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	w := b.Dx()

	switch src := img.(type) {
	case *image.YCbCr:
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			s := src.Pix[src.PixOffset(b.Min.X, y):]
			d := dst.Pix[dst.PixOffset(0, y-b.Min.Y):]
			for x := 0; x < w; x++ {
				d[x*4+0] = s[x*4+0]
				d[x*4+1] = s[x*4+1]
				d[x*4+2] = s[x*4+2]
				d[x*4+3] = 0xff
			}
		}
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			s := src.Pix[src.PixOffset(b.Min.X, y):]
			d := dst.Pix[dst.PixOffset(0, y-b.Min.Y):]
			for x := 0; x < w; x++ {
				a := s[x*4+3]
				for c := 0; c < channels; c++ {
					d[x*4+c] = unpremultiply(s[x*4+c], a)
				}
				d[x*4+3] = 0xff
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			s := src.Pix[src.PixOffset(b.Min.X, y):]
			d := dst.Pix[dst.PixOffset(0, y-b.Min.Y):]
			for x := 0; x < w; x++ {
				d[x*4+0] = s[x]
				d[x*4+1] = s[x]
				d[x*4+2] = s[x]
				d[x*4+3] = 0xff
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				i := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
				dst.Pix[i+0] = c.R
				dst.Pix[i+1] = c.G
				dst.Pix[i+2] = c.B
				dst.Pix[i+3] = 0xff
			}
		}
	}

	return dst
}

// unpremultiply matches color.NRGBAModel for an 8-bit premultiplied channel.
func unpremultiply(v, a uint8) uint8 {
	switch a {
	case 0xff:
		return v
	case 0:
		return 0
	}
	return uint8((uint32(v) * 0x101 * 0xffff / (uint32(a) * 0x101)) >> 8)
}

// asRGBA returns img as *image.RGBA anchored at the origin.
func asRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
