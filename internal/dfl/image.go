package dfl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"os"
	"sort"

	"github.com/Cioscos/fake-dfl-images/internal/infra/fsx"
)

// DFL dict 中的常用键。
const (
	KeySourceFilename = "source_filename"
	KeyFaceType       = "face_type"
	KeyLandmarks      = "landmarks"
	KeySourceRect     = "source_rect"
)

// Image 是一张已解析的 DFL JPEG。
//
// 约束：Save/Dump 只替换 APP15；其余段与熵编码数据逐字节保留。
// 已有 APP15 时只追加改动的键，原 pickle 的其它字节不变。
type Image struct {
	Path string

	segments []Segment
	trailer  []byte

	// raw 是最后一个 APP15 的原始 pickle；没有 APP15 时为 nil。
	raw  []byte
	dict Dict
	// dictErr 非 nil 表示 raw 无法完整解码，dict 只含能从指令流中找回的字段。
	dictErr error
	// edits 是自上次 Dump 以来 Set 过的键（按首次设置顺序）；rewrite 表示有删除，需要整体重写。
	edits   []string
	rewrite bool

	height, width, channels int
}

// Load 读取并解析 path。
func Load(path string) (*Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(b)
	if err != nil {
		return nil, err
	}
	img.Path = path
	return img, nil
}

// Decode 从内存数据解析。没有 APP15 的普通 JPEG 得到空 dict。
//
// APP15 不是合法的 pickle 指令流时返回 *FormatError；指令流合法但 og-rek 无法还原
// （例如含 numpy 数组）时不报错，只是 dict 不完整，见 PartialErr。
func Decode(data []byte) (*Image, error) {
	segs, trailer, err := parseSegments(data)
	if err != nil {
		return nil, err
	}

	img := &Image{
		segments: segs,
		trailer:  trailer,
		dict:     Dict{},
	}

	for _, s := range segs {
		switch s.Marker {
		case markerSOF0, markerSOF2:
			if len(s.Data) < 6 {
				return nil, &FormatError{Msg: "SOF 段过短"}
			}
			img.height = int(binary.BigEndian.Uint16(s.Data[1:3]))
			img.width = int(binary.BigEndian.Uint16(s.Data[3:5]))
			img.channels = int(s.Data[5])
		case markerAPP15:
			// 多个 APP15 时以最后一个为准。
			img.raw = s.Data
		}
	}

	if img.raw != nil {
		if err := img.decodeRaw(); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (img *Image) decodeRaw() error {
	ops, err := walkPickle(img.raw)
	if err != nil {
		return &FormatError{Msg: "APP15 解码失败", Err: err}
	}
	d, err := decodeDict(img.raw)
	if err == nil {
		img.dict = d
		return nil
	}

	img.dictErr = err
	for _, k := range []string{KeySourceFilename, KeyFaceType} {
		if v, ok := recoverString(ops, k); ok {
			img.dict[k] = v
		}
	}
	return nil
}

// PartialErr 返回 APP15 无法完整解码的原因；nil 表示 dict 完整。
// dict 不完整时仍可以 Set/Save，但不能删除字段。
func (img *Image) PartialErr() error { return img.dictErr }

// Shape 返回 (height, width, channels)；没有 SOF0/SOF2 时全为 0。
func (img *Image) Shape() (int, int, int) {
	return img.height, img.width, img.channels
}

// HasData 表示图片带有 DFL 元数据。
func (img *Image) HasData() bool { return img.raw != nil || len(img.dict) > 0 }

// Has 表示 key 存在且不是 None。
func (img *Image) Has(key string) bool {
	v, ok := img.dict[key]
	return ok && !isNone(v)
}

// Get 返回 key 的原始值（og-rek 解码类型）；None 视为不存在。
func (img *Image) Get(key string) (interface{}, bool) {
	v, ok := img.dict[key]
	if !ok || isNone(v) {
		return nil, false
	}
	return v, true
}

// Set 设置一个字段；value 为 nil 等价于删除。
func (img *Image) Set(key string, value interface{}) {
	if value == nil {
		delete(img.dict, key)
		img.rewrite = true
		return
	}
	img.dict[key] = value
	for _, k := range img.edits {
		if k == key {
			return
		}
	}
	img.edits = append(img.edits, key)
}

// Keys 返回字符串键（排序后），非字符串键忽略。
func (img *Image) Keys() []string {
	keys := make([]string, 0, len(img.dict))
	for k, v := range img.dict {
		s, ok := k.(string)
		if !ok || isNone(v) {
			continue
		}
		keys = append(keys, s)
	}
	sort.Strings(keys)
	return keys
}

// Dict 返回 dict 的浅拷贝。
func (img *Image) Dict() Dict {
	out := make(Dict, len(img.dict))
	for k, v := range img.dict {
		out[k] = v
	}
	return out
}

// SourceFilename 返回 source_filename；字段缺失或不是字符串时 ok=false。
func (img *Image) SourceFilename() (string, bool) {
	return img.stringField(KeySourceFilename)
}

// SetSourceFilename 设置 source_filename，Dump/Save 后生效。
func (img *Image) SetSourceFilename(name string) {
	img.Set(KeySourceFilename, name)
}

// FaceType 返回 face_type（例如 "whole_face"）。
func (img *Image) FaceType() (string, bool) {
	return img.stringField(KeyFaceType)
}

// Landmarks 把 landmarks 转成二维 float 数组；字段不是纯数字列表时返回 false。
func (img *Image) Landmarks() ([][]float64, bool) {
	return img.matrixField(KeyLandmarks)
}

// SourceRect 返回 source_rect 的四个坐标。
func (img *Image) SourceRect() ([]float64, bool) {
	v, ok := img.Get(KeySourceRect)
	if !ok {
		return nil, false
	}
	return floatList(v)
}

func (img *Image) stringField(key string) (string, bool) {
	v, ok := img.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (img *Image) matrixField(key string) ([][]float64, bool) {
	v, ok := img.Get(key)
	if !ok {
		return nil, false
	}
	rows, ok := sequence(v)
	if !ok {
		return nil, false
	}
	out := make([][]float64, 0, len(rows))
	for _, r := range rows {
		fr, ok := floatList(r)
		if !ok {
			return nil, false
		}
		out = append(out, fr)
	}
	return out, true
}

// Dump 生成新的 JPEG 字节。
//
// 已有 APP15：原位替换最后一个 APP15（多余的 APP15 删除），载荷由 splicePickle 生成。
// 没有 APP15：序列化整个 dict，新段插在最后一个 APPn 之后（没有则紧跟 SOI）。
func (img *Image) Dump() ([]byte, error) {
	payload, err := img.payload()
	if err != nil {
		return nil, err
	}
	if len(payload) > maxSegmentData {
		return nil, ErrSegmentTooLarge
	}

	last := -1
	for i, s := range img.segments {
		if s.Marker == markerAPP15 {
			last = i
		}
	}

	segs := make([]Segment, 0, len(img.segments)+1)
	app15 := Segment{Marker: markerAPP15, Data: payload}
	if last >= 0 {
		for i, s := range img.segments {
			switch {
			case i == last:
				segs = append(segs, app15)
			case s.Marker == markerAPP15:
			default:
				segs = append(segs, s)
			}
		}
	} else {
		segs = append(segs, img.segments...)
		at := 1
		for i, s := range segs {
			if s.isAPP() {
				at = i + 1
			}
		}
		if at > len(segs) {
			at = len(segs)
		}
		segs = append(segs, Segment{})
		copy(segs[at+1:], segs[at:])
		segs[at] = app15
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + 64*1024)
	if err := writeSegments(&buf, segs, img.trailer); err != nil {
		return nil, err
	}

	// 让后续 Dump/Save 看到的是已写出的状态。
	img.segments = segs
	img.raw = payload
	img.edits = nil
	img.rewrite = false
	return buf.Bytes(), nil
}

func (img *Image) payload() ([]byte, error) {
	switch {
	case img.raw == nil || img.rewrite:
		if img.dictErr != nil {
			return nil, &FormatError{Msg: "APP15 无法完整解码，不能删除字段", Err: img.dictErr}
		}
		payload, err := encodeDict(img.dict)
		if err != nil {
			return nil, fmt.Errorf("dfl: 编码 APP15 失败：%w", err)
		}
		return payload, nil
	case len(img.edits) == 0:
		return img.raw, nil
	default:
		payload, err := splicePickle(img.raw, img.edits, img.dict)
		if err != nil {
			return nil, &FormatError{Msg: "APP15 改写失败", Err: err}
		}
		return payload, nil
	}
}

// Save 把当前 dict 写回 Path（原地覆盖，不做备份）。
func (img *Image) Save() error {
	if img.Path == "" {
		return fmt.Errorf("dfl: Image 没有关联文件路径")
	}
	b, err := img.Dump()
	if err != nil {
		return err
	}
	return fsx.ReplaceFile(img.Path, b)
}

func sequence(v interface{}) ([]interface{}, bool) {
	switch x := v.(type) {
	case []interface{}:
		return x, true
	case ogTuple:
		return []interface{}(x), true
	default:
		return nil, false
	}
}

func floatList(v interface{}) ([]float64, bool) {
	xs, ok := sequence(v)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		f, ok := toFloat(x)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	default:
		return 0, false
	}
}
