package dfl

import (
	"bytes"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

var exifHeader = []byte("Exif\x00\x00")

// ExifSummary 是 inspect 展示用的少量 EXIF 字段。
type ExifSummary struct {
	Make     string
	Model    string
	Software string
	DateTime time.Time
}

// Exif 解码 APP1 中的 EXIF 块。没有 EXIF 时返回 ErrNoExif。
func (img *Image) Exif() (*exif.Exif, error) {
	for _, s := range img.segments {
		if s.Marker != markerAPP1 || !bytes.HasPrefix(s.Data, exifHeader) {
			continue
		}
		return exif.Decode(bytes.NewReader(s.Data))
	}
	return nil, ErrNoExif
}

// ExifSummary 提取常用字段；单个字段缺失不算错误。
func (img *Image) ExifSummary() (ExifSummary, error) {
	x, err := img.Exif()
	if err != nil {
		return ExifSummary{}, err
	}

	var s ExifSummary
	s.Make = exifString(x, exif.Make)
	s.Model = exifString(x, exif.Model)
	s.Software = exifString(x, exif.Software)
	if t, err := x.DateTime(); err == nil {
		s.DateTime = t
	}
	return s, nil
}

func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	v, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return v
}
