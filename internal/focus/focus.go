// Package focus scores image sharpness for the autofocus search.
package focus

import (
	"image"
)

// Tenengrad computes a sharpness score as the mean squared gradient
// magnitude of the 3x3 Sobel operator over the interior pixels of the
// image (the one-pixel border has no full neighborhood and is skipped).
// Higher means sharper. Images smaller than 3x3 score 0.
func Tenengrad(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	gray := toGray(img)

	var sum float64
	for y := 1; y < h-1; y++ {
		row := gray.Pix[y*gray.Stride:]
		above := gray.Pix[(y-1)*gray.Stride:]
		below := gray.Pix[(y+1)*gray.Stride:]
		for x := 1; x < w-1; x++ {
			tl, tc, tr := int(above[x-1]), int(above[x]), int(above[x+1])
			ml, mr := int(row[x-1]), int(row[x+1])
			bl, bc, br := int(below[x-1]), int(below[x]), int(below[x+1])

			gx := (tr + 2*mr + br) - (tl + 2*ml + bl)
			gy := (bl + 2*bc + br) - (tl + 2*tc + tr)
			sum += float64(gx*gx + gy*gy)
		}
	}

	return sum / float64((w-2)*(h-2))
}

// toGray converts any image to 8-bit grayscale, reusing the buffer when the
// input already is one.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == image.Pt(0, 0) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, gr, bl, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, same weights image/color uses.
			lum := (19595*r + 38470*gr + 7471*bl + 1<<15) >> 24
			g.Pix[(y-b.Min.Y)*g.Stride+(x-b.Min.X)] = uint8(lum)
		}
	}
	return g
}
