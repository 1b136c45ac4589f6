package focus

import (
	"image"
	"image/color"
	"math/rand"
	"testing"
)

func grayImage(w, h int, at func(x, y int) uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: at(x, y)})
		}
	}
	return img
}

func TestTenengrad_FlatImageScoresZero(t *testing.T) {
	for _, level := range []uint8{0, 128, 255} {
		img := grayImage(32, 32, func(x, y int) uint8 { return level })
		if got := Tenengrad(img); got != 0 {
			t.Errorf("flat image at level %d scored %v, want 0", level, got)
		}
	}
}

func TestTenengrad_KnownEdgeValue(t *testing.T) {
	// 3x3 with a horizontal step on the bottom row. The single interior pixel
	// sees gy = 4*255 = 1020, gx = 0, so the mean is 1020*1020.
	img := grayImage(3, 3, func(x, y int) uint8 {
		if y == 2 {
			return 255
		}
		return 0
	})
	if got, want := Tenengrad(img), float64(1020*1020); got != want {
		t.Errorf("Tenengrad = %v, want %v", got, want)
	}
}

func TestTenengrad_TexturedBeatsFlat(t *testing.T) {
	flat := grayImage(64, 64, func(x, y int) uint8 { return 100 })
	checker := grayImage(64, 64, func(x, y int) uint8 {
		if (x+y)%2 == 0 {
			return 255
		}
		return 0
	})
	if Tenengrad(checker) <= Tenengrad(flat) {
		t.Error("checkerboard must outscore a flat image")
	}
}

func TestTenengrad_SharpBeatsBlurred(t *testing.T) {
	// Hard vertical edge vs the same edge smeared over a wide ramp.
	sharp := grayImage(64, 64, func(x, y int) uint8 {
		if x >= 32 {
			return 255
		}
		return 0
	})
	blurred := grayImage(64, 64, func(x, y int) uint8 {
		return uint8(x * 255 / 63)
	})
	if Tenengrad(sharp) <= Tenengrad(blurred) {
		t.Errorf("sharp edge %v must outscore blurred ramp %v", Tenengrad(sharp), Tenengrad(blurred))
	}
}

func TestTenengrad_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	img := grayImage(48, 48, func(x, y int) uint8 { return uint8(rng.Intn(256)) })
	first := Tenengrad(img)
	for i := 0; i < 3; i++ {
		if got := Tenengrad(img); got != first {
			t.Fatalf("run %d scored %v, first run %v", i, got, first)
		}
	}
}

func TestTenengrad_TooSmall(t *testing.T) {
	for _, dims := range [][2]int{{1, 1}, {2, 2}, {2, 10}, {10, 2}} {
		img := grayImage(dims[0], dims[1], func(x, y int) uint8 { return uint8(x * 37) })
		if got := Tenengrad(img); got != 0 {
			t.Errorf("%dx%d image scored %v, want 0", dims[0], dims[1], got)
		}
	}
}

func TestTenengrad_ColorInputMatchesGray(t *testing.T) {
	// An RGBA image with equal channels must score like its grayscale twin.
	gray := grayImage(16, 16, func(x, y int) uint8 { return uint8((x * y) % 256) })
	rgba := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := uint8((x * y) % 256)
			rgba.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	if g, r := Tenengrad(gray), Tenengrad(rgba); g != r {
		t.Errorf("gray scored %v, rgba twin %v", g, r)
	}
}

func TestTenengrad_OffsetBoundsHandled(t *testing.T) {
	// SubImage produces non-zero Min bounds; the score must not depend on them.
	base := grayImage(40, 40, func(x, y int) uint8 {
		if x >= 20 {
			return 255
		}
		return 0
	})
	sub, ok := base.SubImage(image.Rect(10, 10, 30, 30)).(*image.Gray)
	if !ok {
		t.Fatal("SubImage did not return *image.Gray")
	}
	straight := grayImage(20, 20, func(x, y int) uint8 {
		if x+10 >= 20 {
			return 255
		}
		return 0
	})
	if Tenengrad(sub) != Tenengrad(straight) {
		t.Errorf("offset bounds changed the score: %v vs %v", Tenengrad(sub), Tenengrad(straight))
	}
}
