// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package classfile

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// reader is a big-endian cursor over a byte slice. The first out-of-range
// read sets 'err' and every read after that returns zero.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: truncated at offset %d, need %d bytes", ErrFormat, r.off, n)
		return false
	}
	return true
}

func (r *reader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) u8() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

// sub returns a reader over the next 'n' bytes and skips them.
func (r *reader) sub(n int) *reader {
	return &reader{b: r.bytes(n), err: r.err}
}

// writer is the encoding counterpart of reader.
type writer struct {
	b []byte
}

func (w *writer) u1(v uint8) {
	w.b = append(w.b, v)
}

func (w *writer) u2(v uint16) {
	w.b = append(w.b, byte(v>>8), byte(v))
}

func (w *writer) u4(v uint32) {
	w.b = append(w.b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (w *writer) u8(v uint64) {
	w.u4(uint32(v >> 32))
	w.u4(uint32(v))
}

func (w *writer) bytes(b []byte) {
	w.b = append(w.b, b...)
}

// decodeModifiedUTF8 decodes the string encoding used by class files: NUL is
// two bytes and supplementary characters are encoded as surrogate pairs.
func decodeModifiedUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c != 0 && c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return "", fmt.Errorf("%w: bad 2-byte sequence in string", ErrFormat)
			}
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return "", fmt.Errorf("%w: bad 3-byte sequence in string", ErrFormat)
			}
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return "", fmt.Errorf("%w: invalid byte %#x in string", ErrFormat, c)
		}
	}
	return string(utf16.Decode(units)), nil
}

func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, byte(0xc0|u>>6), byte(0x80|u&0x3f))
		default:
			out = append(out, byte(0xe0|u>>12), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
		}
	}
	return out
}
