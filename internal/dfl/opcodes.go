package dfl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// 只列出本包需要识别的 pickle opcode；其余 opcode 只按参数长度跳过。
const (
	opStop            = '.'
	opSetitem         = 's'
	opPut             = 'p'
	opBinput          = 'q'
	opLongBinput      = 'r'
	opBinstring       = 'T'
	opShortBinstring  = 'U'
	opBinunicode      = 'X'
	opShortBinUnicode = 0x8c
	opBinunicode8     = 0x8d
	opMemoize         = 0x94
	opFrame           = 0x95
)

// pickleOp 是 pickle 流中的一条指令。
// Pos 指向 opcode 字节，End 指向下一条指令；Arg 是参数（计数型字符串只含数据本身）。
type pickleOp struct {
	Code byte
	Pos  int
	End  int
	Arg  []byte
}

var errPickleTruncated = errors.New("pickle 数据被截断")

// opArg 描述参数编码方式。
type opArg int

const (
	argNone opArg = iota
	argFixed
	argLine
	argTwoLines
	argCount1
	argCount4
	argCount8
)

type opDesc struct {
	kind opArg
	n    int // argFixed 的字节数
}

var opTable = func() map[byte]opDesc {
	m := map[byte]opDesc{}
	for _, c := range []byte("(.012NRabdlste])}ouQ") {
		m[c] = opDesc{kind: argNone}
	}
	for _, c := range []byte{0x81, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8f, 0x90, 0x91, 0x92, 0x93, 0x94, 0x97, 0x98} {
		m[c] = opDesc{kind: argNone}
	}
	for _, c := range []byte("FILPSVgp") {
		m[c] = opDesc{kind: argLine}
	}
	m['c'] = opDesc{kind: argTwoLines}
	m['i'] = opDesc{kind: argTwoLines}

	fixed := map[byte]int{
		'J': 4, 'K': 1, 'M': 2, 'h': 1, 'j': 4, 'q': 1, 'r': 4, 'G': 8,
		0x80: 1, 0x82: 1, 0x83: 2, 0x84: 4, 0x95: 8,
	}
	for c, n := range fixed {
		m[c] = opDesc{kind: argFixed, n: n}
	}
	for _, c := range []byte{'U', 'C', 0x8c, 0x8a} {
		m[c] = opDesc{kind: argCount1}
	}
	for _, c := range []byte{'T', 'X', 'B', 0x8b} {
		m[c] = opDesc{kind: argCount4}
	}
	for _, c := range []byte{0x8d, 0x8e, 0x96} {
		m[c] = opDesc{kind: argCount8}
	}
	return m
}()

// walkPickle 按指令切分 pickle，直到 STOP（含）。不执行任何指令。
func walkPickle(b []byte) ([]pickleOp, error) {
	var ops []pickleOp
	i := 0
	for i < len(b) {
		code := b[i]
		desc, ok := opTable[code]
		if !ok {
			return nil, fmt.Errorf("偏移 %d：未知的 pickle opcode 0x%02x", i, code)
		}
		op := pickleOp{Code: code, Pos: i}
		p := i + 1

		switch desc.kind {
		case argNone:
		case argFixed:
			if p+desc.n > len(b) {
				return nil, errPickleTruncated
			}
			op.Arg = b[p : p+desc.n]
			p += desc.n
		case argLine, argTwoLines:
			lines := 1
			if desc.kind == argTwoLines {
				lines = 2
			}
			start := p
			for ; lines > 0; lines-- {
				nl := bytes.IndexByte(b[p:], '\n')
				if nl < 0 {
					return nil, errPickleTruncated
				}
				p += nl + 1
			}
			op.Arg = b[start : p-1]
		case argCount1, argCount4, argCount8:
			var n uint64
			switch desc.kind {
			case argCount1:
				if p+1 > len(b) {
					return nil, errPickleTruncated
				}
				n = uint64(b[p])
				p++
			case argCount4:
				if p+4 > len(b) {
					return nil, errPickleTruncated
				}
				n = uint64(binary.LittleEndian.Uint32(b[p:]))
				p += 4
			default:
				if p+8 > len(b) {
					return nil, errPickleTruncated
				}
				n = binary.LittleEndian.Uint64(b[p:])
				p += 8
			}
			if n > uint64(len(b)-p) {
				return nil, errPickleTruncated
			}
			op.Arg = b[p : p+int(n)]
			p += int(n)
		}

		op.End = p
		ops = append(ops, op)
		if code == opStop {
			return ops, nil
		}
		i = p
	}
	return nil, errors.New("pickle 缺少 STOP")
}

func isStringOp(op pickleOp) bool {
	switch op.Code {
	case opShortBinUnicode, opBinunicode, opBinunicode8, opShortBinstring, opBinstring:
		return true
	default:
		return false
	}
}

func isMemoOp(op pickleOp) bool {
	switch op.Code {
	case opMemoize, opBinput, opLongBinput, opPut:
		return true
	default:
		return false
	}
}

// recoverString 在无法完整解码的 pickle 中找 key 对应的字符串值：
// 取最后一处“字符串 key，(memo)，字符串值”的相邻序列。值经由 memo 引用时找不到。
func recoverString(ops []pickleOp, key string) (string, bool) {
	var (
		val   string
		found bool
	)
	for i, op := range ops {
		if !isStringOp(op) || string(op.Arg) != key {
			continue
		}
		j := i + 1
		for j < len(ops) && isMemoOp(ops[j]) {
			j++
		}
		if j < len(ops) && isStringOp(ops[j]) {
			val, found = string(ops[j].Arg), true
		}
	}
	return val, found
}
