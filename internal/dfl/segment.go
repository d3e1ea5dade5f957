package dfl

import (
	"bytes"
	"encoding/binary"
)

const (
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerSOF0  = 0xC0
	markerSOF2  = 0xC2
	markerAPP1  = 0xE1
	markerAPP15 = 0xEF

	maxSegmentData = 0xFFFF - 2
)

// Segment 是一个 JPEG marker 段。
//
// Data 不含 marker 与长度字段；Entropy 只在 SOS 上非空，
// 保存 SOS 头之后直到 EOI 之前的全部字节（包括 RSTn 与渐进式后续扫描）。
type Segment struct {
	Marker  byte
	Data    []byte
	Entropy []byte
}

func (s Segment) isAPP() bool { return s.Marker&0xF0 == 0xE0 }

// standalone 的 marker 没有长度字段。
func standalone(m byte) bool {
	switch {
	case m == markerSOI, m == markerEOI, m == 0x01:
		return true
	case m >= 0xD0 && m <= 0xD7:
		return true
	default:
		return false
	}
}

// parseSegments 把 JPEG 字节切成段。EOI 之后的字节作为 trailer 原样保留。
func parseSegments(data []byte) ([]Segment, []byte, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, nil, ErrNotJPEG
	}

	segs := make([]Segment, 0, 16)
	n := len(data)
	pos := 0
	for pos < n {
		if data[pos] != 0xFF || pos+1 >= n {
			return nil, nil, &FormatError{Offset: pos, Msg: "期望 marker"}
		}
		m := data[pos+1]
		pos += 2

		if m == markerSOI && len(segs) != 0 {
			return nil, nil, &FormatError{Offset: pos - 2, Msg: "重复的 SOI"}
		}
		if m == 0xFF || m == 0x00 {
			return nil, nil, &FormatError{Offset: pos - 2, Msg: "非法 marker"}
		}

		seg := Segment{Marker: m}
		if !standalone(m) {
			if pos+2 > n {
				return nil, nil, &FormatError{Offset: pos, Msg: "段长度被截断"}
			}
			l := int(binary.BigEndian.Uint16(data[pos : pos+2]))
			if l < 2 || pos+l > n {
				return nil, nil, &FormatError{Offset: pos, Msg: "段长度越界"}
			}
			seg.Data = data[pos+2 : pos+l]
			pos += l
		}

		if m == markerSOS {
			// 熵编码数据里的 0xFF 都被填充为 FF00，因此 FFD9 只会是 EOI。
			end := bytes.Index(data[pos:], []byte{0xFF, markerEOI})
			if end < 0 {
				end = n - pos
			}
			seg.Entropy = data[pos : pos+end]
			pos += end
		}

		segs = append(segs, seg)
		if m == markerEOI {
			break
		}
	}

	var trailer []byte
	if pos < n {
		trailer = data[pos:]
	}
	return segs, trailer, nil
}

// writeSegments 是 parseSegments 的逆操作。
func writeSegments(buf *bytes.Buffer, segs []Segment, trailer []byte) error {
	for _, s := range segs {
		buf.WriteByte(0xFF)
		buf.WriteByte(s.Marker)
		if !standalone(s.Marker) {
			if len(s.Data) > maxSegmentData {
				if s.Marker == markerAPP15 {
					return ErrSegmentTooLarge
				}
				return &FormatError{Msg: "段数据过大"}
			}
			var l [2]byte
			binary.BigEndian.PutUint16(l[:], uint16(len(s.Data)+2))
			buf.Write(l[:])
			buf.Write(s.Data)
		}
		buf.Write(s.Entropy)
	}
	buf.Write(trailer)
	return nil
}
