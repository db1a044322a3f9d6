package calib

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
)

// PreprocessFunc turns a decoded image into one CHW float32 sample written
// into dst, which holds exactly channels*height*width values.
type PreprocessFunc func(img image.Image, channels, height, width int, dst []float32) error

// DefaultPreprocess is used when no function name is configured.
const DefaultPreprocess = "imagenet"

var preprocessors = map[string]PreprocessFunc{
	"imagenet":  Imagenet,
	"inception": Inception,
}

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// LookupPreprocess resolves a preprocessing function by name. The
// "preprocess_" prefix is optional.
func LookupPreprocess(name string) (PreprocessFunc, error) {
	key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "preprocess_")
	if key == "" {
		key = DefaultPreprocess
	}
	fn, ok := preprocessors[key]
	if !ok {
		return nil, newConfigError("unknown preprocessing function %q (available: %s)", name, strings.Join(PreprocessNames(), ", "))
	}
	return fn, nil
}

// PreprocessNames lists the registered preprocessing functions.
func PreprocessNames() []string {
	names := make([]string, 0, len(preprocessors))
	for n := range preprocessors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Imagenet suits resnet50, vgg16, mobilenet and similar models: Lanczos
// resize, scale to [0,1], then per-channel mean/std normalization.
func Imagenet(img image.Image, channels, height, width int, dst []float32) error {
	return toCHW(imaging.Resize(img, width, height, imaging.Lanczos), channels, height, width, dst, func(c int, v uint8) float32 {
		return (float32(v)/255 - imagenetMean[c]) / imagenetStd[c]
	})
}

// Inception uses a bilinear resize and keeps raw 0-255 pixel values.
func Inception(img image.Image, channels, height, width int, dst []float32) error {
	return toCHW(imaging.Resize(img, width, height, imaging.Linear), channels, height, width, dst, func(_ int, v uint8) float32 {
		return float32(v)
	})
}

// toCHW writes an RGB image planar. Grayscale sources decode with equal
// R, G and B, so they come out replicated across the three channels.
func toCHW(img *image.NRGBA, channels, height, width int, dst []float32, norm func(c int, v uint8) float32) error {
	if channels != 3 {
		return fmt.Errorf("expected 3 channels, got %d", channels)
	}
	plane := height * width
	if len(dst) != channels*plane {
		return fmt.Errorf("destination holds %d values, want %d", len(dst), channels*plane)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := img.PixOffset(x, y)
			pos := y*width + x
			for c := 0; c < 3; c++ {
				dst[c*plane+pos] = norm(c, img.Pix[off+c])
			}
		}
	}
	return nil
}
