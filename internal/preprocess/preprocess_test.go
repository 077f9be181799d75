package preprocess

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func assertUnitRange(t *testing.T, data []float32) {
	t.Helper()
	for i, v := range data {
		if v < 0 || v > 1 {
			t.Fatalf("value %d out of range: %f", i, v)
		}
	}
}

func TestNormalize_AnySizeToDefaultShape(t *testing.T) {
	sizes := []image.Point{{224, 224}, {640, 480}, {31, 97}, {1, 1}}

	for _, size := range sizes {
		tensor, err := Normalize(encodePNG(t, gradient(size.X, size.Y)), DefaultSpec())
		require.NoError(t, err, "size %v", size)

		assert.Equal(t, []int64{1, 224, 224, 3}, tensor.Shape)
		assert.Len(t, tensor.Data, 224*224*3)
		assertUnitRange(t, tensor.Data)
	}
}

func TestNormalize_AllBlackIsZero(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}

	tensor, err := Normalize(encodePNG(t, img), DefaultSpec())
	require.NoError(t, err)

	for _, v := range tensor.Data {
		require.Zero(t, v)
	}
}

func TestNormalize_AllWhiteIsOne(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 50, 80))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	tensor, err := Normalize(encodePNG(t, img), DefaultSpec())
	require.NoError(t, err)

	for _, v := range tensor.Data {
		require.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestNormalize_GrayscaleReplicatesChannels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 224, 224))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}

	tensor, err := Normalize(encodePNG(t, img), DefaultSpec())
	require.NoError(t, err)

	for i := 0; i < len(tensor.Data); i += 3 {
		require.Equal(t, tensor.Data[i], tensor.Data[i+1])
		require.Equal(t, tensor.Data[i], tensor.Data[i+2])
	}
	assert.InDelta(t, 1.0/255.0, tensor.Data[3], 1e-6)
}

func TestNormalize_AlphaIsDropped(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 224, 224))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = 200
		img.Pix[i+1] = 100
		img.Pix[i+2] = 50
		img.Pix[i+3] = 0
	}

	tensor, err := Normalize(encodePNG(t, img), DefaultSpec())
	require.NoError(t, err)

	assert.InDelta(t, 200.0/255.0, tensor.Data[0], 1e-6)
	assert.InDelta(t, 100.0/255.0, tensor.Data[1], 1e-6)
	assert.InDelta(t, 50.0/255.0, tensor.Data[2], 1e-6)
}

func TestNormalize_Formats(t *testing.T) {
	src := gradient(64, 48)

	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, src, &jpeg.Options{Quality: 90}))

	var gf bytes.Buffer
	require.NoError(t, gif.Encode(&gf, src, nil))

	for name, data := range map[string][]byte{
		"png":  encodePNG(t, src),
		"jpeg": jpg.Bytes(),
		"gif":  gf.Bytes(),
	} {
		t.Run(name, func(t *testing.T) {
			tensor, err := Normalize(data, DefaultSpec())
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 224, 224, 3}, tensor.Shape)
			assertUnitRange(t, tensor.Data)
		})
	}
}

func TestNormalize_InvalidBytes(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("definitely not an image"),
		"truncated": encodePNG(t, gradient(10, 10))[:20],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(data, DefaultSpec())
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestNormalize_NCHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = 255
		img.Pix[i+1] = 0
		img.Pix[i+2] = 51
		img.Pix[i+3] = 255
	}

	spec := Spec{Width: 4, Height: 2, Layout: NCHW}
	tensor, err := Normalize(encodePNG(t, img), spec)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 2, 4}, tensor.Shape)
	plane := 8
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, tensor.Data[i], 1e-6)
		assert.InDelta(t, 0.0, tensor.Data[plane+i], 1e-6)
		assert.InDelta(t, 0.2, tensor.Data[2*plane+i], 1e-6)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	data := encodePNG(t, gradient(300, 200))

	first, err := Normalize(data, DefaultSpec())
	require.NoError(t, err)
	second, err := Normalize(data, DefaultSpec())
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
}

func TestNormalizeImage_OffsetBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 12, 12))
	img.Set(10, 10, color.RGBA{R: 255, A: 255})

	tensor, err := NormalizeImage(img, Spec{Width: 2, Height: 2, Layout: NHWC})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, tensor.Data[0], 1e-6)
	assert.Zero(t, tensor.Data[3])
}

func TestSpec_Validate(t *testing.T) {
	assert.NoError(t, DefaultSpec().Validate())
	assert.ErrorIs(t, Spec{Width: 0, Height: 224, Layout: NHWC}.Validate(), ErrInvalidSpec)
	assert.ErrorIs(t, Spec{Width: 224, Height: 224, Layout: "hwc"}.Validate(), ErrInvalidSpec)

	assert.ErrorIs(t, Spec{Width: 224, Height: 224, Layout: NHWC, MaxPixels: -1}.Validate(), ErrInvalidSpec)

	_, err := Normalize([]byte("x"), Spec{Width: -1, Height: 1, Layout: NHWC})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

// pngHeader returns a PNG holding only a signature and an IHDR chunk for a
// grayscale image of the given size. It carries no pixel data.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 0, 17)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, width)
	ihdr = binary.BigEndian.AppendUint32(ihdr, height)
	ihdr = append(ihdr, 8, 0, 0, 0, 0) // bit depth, gray, deflate, no filter, no interlace

	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, ihdr...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(ihdr))
	return out
}

func TestNormalize_RejectsOversizedBeforeDecoding(t *testing.T) {
	_, err := Normalize(pngHeader(20000, 20000), DefaultSpec())
	require.ErrorIs(t, err, ErrTooLarge)
	assert.NotErrorIs(t, err, ErrDecode)

	// Within the limit the same truncated file fails as a decode error.
	_, err = Normalize(pngHeader(1000, 1000), DefaultSpec())
	assert.ErrorIs(t, err, ErrDecode)
}

func TestNormalize_MaxPixels(t *testing.T) {
	data := encodePNG(t, gradient(20, 20))

	spec := DefaultSpec()
	spec.MaxPixels = 399
	_, err := Normalize(data, spec)
	assert.ErrorIs(t, err, ErrTooLarge)

	spec.MaxPixels = 400
	_, err = Normalize(data, spec)
	assert.NoError(t, err)

	spec.MaxPixels = 100
	_, err = NormalizeImage(image.NewGray(image.Rect(0, 0, 20, 20)), spec)
	assert.ErrorIs(t, err, ErrTooLarge)
}

// wrapped hides the concrete image type so toRGB takes its generic path.
type wrapped struct{ image.Image }

func TestToRGB_TypedPathsMatchGeneric(t *testing.T) {
	rect := image.Rect(3, 5, 19, 13)

	nrgba := image.NewNRGBA(rect)
	rgba := image.NewRGBA(rect)
	gray := image.NewGray(rect)
	i := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			a := uint8(i * 37 % 256)
			nrgba.SetNRGBA(x, y, color.NRGBA{R: uint8(i * 7), G: uint8(i * 13), B: uint8(i * 29), A: a})
			rgba.SetRGBA(x, y, color.RGBA{R: uint8(uint(i*7) % (uint(a) + 1)), G: uint8(uint(i*3) % (uint(a) + 1)), B: a / 2, A: a})
			gray.SetGray(x, y, color.Gray{Y: uint8(i * 11)})
			i++
		}
	}

	for name, img := range map[string]image.Image{"nrgba": nrgba, "rgba": rgba, "gray": gray} {
		t.Run(name, func(t *testing.T) {
			got := toRGB(img)
			want := toRGB(wrapped{img})
			assert.Equal(t, want.Rect, got.Rect)
			assert.Equal(t, want.Pix, got.Pix)
		})
	}
}
