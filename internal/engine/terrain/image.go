package terrain

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png" // PNG heightmaps
	"io"
	"os"

	_ "golang.org/x/image/bmp"  // BMP heightmaps
	_ "golang.org/x/image/tiff" // 16-bit TIFF heightmaps
)

// LoadHeightmapImage decodes a grayscale image file into a heightmap. Pixel
// intensity 0..65535 maps linearly to 0..heightScale. Non-square images are
// padded by repeating their last row or column.
func LoadHeightmapImage(path string, heightScale float32) (*Heightmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open heightmap: %w", err)
	}
	defer f.Close()
	return DecodeHeightmap(f, heightScale)
}

// DecodeHeightmap is LoadHeightmapImage for an already opened stream.
func DecodeHeightmap(r io.Reader, heightScale float32) (*Heightmap, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode heightmap: %w", err)
	}

	b := img.Bounds()
	size := max(b.Dx(), b.Dy())
	hm, err := NewHeightmap(size)
	if err != nil {
		return nil, fmt.Errorf("%s heightmap: %w", format, err)
	}

	for y := 0; y < size; y++ {
		// Image rows grow southwards, grid rows northwards.
		py := b.Max.Y - 1 - min(y, b.Dy()-1)
		for x := 0; x < size; x++ {
			px := b.Min.X + min(x, b.Dx()-1)
			g := color.Gray16Model.Convert(img.At(px, py)).(color.Gray16)
			hm.Set(x, y, float32(g.Y)/0xFFFF*heightScale)
		}
	}
	return hm, nil
}
