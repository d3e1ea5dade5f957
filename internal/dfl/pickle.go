package dfl

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ogórek "github.com/kisielk/og-rek"
)

// pickleProtocol 3 让 Go string 以 Python 3 str 写出；DFL 端 pickle.loads 可直接读取。
const pickleProtocol = 3

// Dict 是 APP15 中解码出来的 Python dict。
// 值保持 og-rek 的解码类型（string、int64、float64、[]interface{}、ogórek.Tuple 等）。
// og-rek 不支持 BUILD，numpy 数组一类的值会让整个 dict 解码失败，
// 所以修改已有 APP15 时走 splicePickle，不重新序列化整个 dict。
type Dict = map[interface{}]interface{}

func decodeDict(b []byte) (Dict, error) {
	v, err := ogórek.NewDecoder(bytes.NewReader(b)).Decode()
	if err != nil {
		return nil, err
	}
	d, ok := v.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("APP15 内容不是 dict，而是 %T", v)
	}
	return d, nil
}

func encodeDict(d Dict) ([]byte, error) {
	// 与原生 DFL 一致：值为 None 的键不写出。
	out := make(Dict, len(d))
	for k, v := range d {
		if isNone(v) {
			continue
		}
		out[k] = v
	}

	var buf bytes.Buffer
	enc := ogórek.NewEncoderWithConfig(&buf, &ogórek.EncoderConfig{Protocol: pickleProtocol})
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isNone(v interface{}) bool {
	if v == nil {
		return true
	}
	_, ok := v.(ogórek.None)
	return ok
}

type ogTuple = ogórek.Tuple

// splicePickle 在原 pickle 的 STOP 之前追加 "key value SETITEM"，其余字节保持不变。
//
// 顶层 dict 在 STOP 前位于栈顶，追加的 SETITEM 直接作用于它；同名 key 以最后一次为准。
// 上一次追加的同名字符串条目会先被去掉，重复执行得到相同字节。
// 最后一个 FRAME 若覆盖 STOP，其长度同步修正。
func splicePickle(raw []byte, keys []string, vals Dict) ([]byte, error) {
	ops, err := walkPickle(raw)
	if err != nil {
		return nil, err
	}
	stop := len(ops) - 1

	edited := make(map[string]bool, len(keys))
	for _, k := range keys {
		edited[k] = true
	}
	cut := stop
	for cut >= 3 &&
		ops[cut-1].Code == opSetitem &&
		isStringOp(ops[cut-2]) &&
		ops[cut-3].Code == opBinunicode &&
		edited[string(ops[cut-3].Arg)] {
		if _, ok := vals[string(ops[cut-3].Arg)].(string); !ok {
			break
		}
		cut -= 3
	}

	var buf bytes.Buffer
	buf.Grow(len(raw) + 64)
	buf.Write(raw[:ops[cut].Pos])
	for _, k := range keys {
		writeBinunicode(&buf, k)
		if err := writeValue(&buf, vals[k]); err != nil {
			return nil, fmt.Errorf("编码 %q 失败：%w", k, err)
		}
		buf.WriteByte(opSetitem)
	}
	buf.WriteByte(opStop)
	tail := raw[ops[stop].End:]
	buf.Write(tail)
	out := buf.Bytes()

	for i := stop; i >= 0; i-- {
		f := ops[i]
		if f.Code != opFrame {
			continue
		}
		n := binary.LittleEndian.Uint64(f.Arg)
		if uint64(ops[stop].Pos-f.End) < n {
			n = uint64(int64(n) + int64(len(out)-len(raw)))
			binary.LittleEndian.PutUint64(out[f.Pos+1:f.End], n)
		}
		break
	}
	return out, nil
}

func writeBinunicode(buf *bytes.Buffer, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	buf.WriteByte(opBinunicode)
	buf.Write(n[:])
	buf.WriteString(s)
}

// writeValue 写出单个值的 opcode（不含 PROTO 与 STOP）。
func writeValue(buf *bytes.Buffer, v interface{}) error {
	if s, ok := v.(string); ok {
		writeBinunicode(buf, s)
		return nil
	}
	var tmp bytes.Buffer
	enc := ogórek.NewEncoderWithConfig(&tmp, &ogórek.EncoderConfig{Protocol: 2})
	if err := enc.Encode(v); err != nil {
		return err
	}
	b := tmp.Bytes()
	// PROTO 2 占 2 字节，末尾是 STOP。
	buf.Write(b[2 : len(b)-1])
	return nil
}
