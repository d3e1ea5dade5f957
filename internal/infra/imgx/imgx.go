package imgx

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
)

// DecodeJPEG 完整解码像素数据，用来确认文件改写后仍是可显示的 JPEG。
func DecodeJPEG(b []byte) (image.Image, error) {
	if len(b) == 0 {
		return nil, errors.New("图片为空")
	}
	img, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if r := img.Bounds(); r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}
	return img, nil
}

// SamePixels 逐像素比较两张图片（按 RGBA 值）。
//
// 两张图来自同一段熵编码数据时结果必然相同；只改元数据段不应影响它。
func SamePixels(a, b image.Image) bool {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return false
	}
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return false
			}
		}
	}
	return true
}
