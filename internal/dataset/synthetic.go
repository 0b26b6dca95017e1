package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Fill picks the value of pixel (x, y) of the n-th image of a class.
type Fill func(class, n, x, y int) uint8

// ZeroFill produces black images.
func ZeroFill(class, n, x, y int) uint8 { return 0 }

// RandomFill produces noise images drawn from rng.
func RandomFill(rng *rand.Rand) Fill {
	return func(class, n, x, y int) uint8 {
		return uint8(rng.Intn(256))
	}
}

// WriteSynthetic writes perClass PNG images for every class id below
// classes into root/<class>/<n>.png.
func WriteSynthetic(root string, classes, perClass, width, height int, fill Fill) error {
	if fill == nil {
		fill = ZeroFill
	}
	for class := 0; class < classes; class++ {
		dir := filepath.Join(root, strconv.Itoa(class))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create label directory")
		}
		for n := 0; n < perClass; n++ {
			img := image.NewGray(image.Rect(0, 0, width, height))
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					img.SetGray(x, y, color.Gray{Y: fill(class, n, x, y)})
				}
			}
			if err := writePNG(filepath.Join(dir, fmt.Sprintf("%d.png", n)), img); err != nil {
				return err
			}
		}
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create image")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}
