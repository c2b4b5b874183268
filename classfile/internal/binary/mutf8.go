package binary

import (
	"errors"
	"unicode/utf8"
)

// ErrInvalidMUTF8 is returned for byte sequences that are not modified UTF-8.
var ErrInvalidMUTF8 = errors.New("invalid modified UTF-8")

// DecodeModifiedUTF8 converts the class-file string encoding to a Go string.
// NUL arrives as 0xC0 0x80 and supplementary characters as surrogate pairs.
// Unpaired surrogates are kept as their three-byte form so that encoding the
// result reproduces the input exactly.
func DecodeModifiedUTF8(b []byte) (string, error) {
	plain := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			plain = false
			break
		}
	}
	if plain {
		return string(b), nil
	}

	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return "", ErrInvalidMUTF8
		case c < 0x80:
			out = append(out, c)
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", ErrInvalidMUTF8
			}
			r := rune(c&0x1F)<<6 | rune(b[i+1]&0x3F)
			out = utf8.AppendRune(out, r)
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", ErrInvalidMUTF8
			}
			r := rune(c&0x0F)<<12 | rune(b[i+1]&0x3F)<<6 | rune(b[i+2]&0x3F)
			if r >= 0xD800 && r <= 0xDBFF && i+5 < len(b) && b[i+3] == 0xED && b[i+4]&0xF0 == 0xB0 {
				lo := rune(b[i+4]&0x0F)<<6 | rune(b[i+5]&0x3F) | 0xDC00
				out = utf8.AppendRune(out, 0x10000+(r-0xD800)<<10+(lo-0xDC00))
				i += 6
				continue
			}
			if r >= 0xD800 && r <= 0xDFFF {
				out = append(out, b[i:i+3]...)
			} else {
				out = utf8.AppendRune(out, r)
			}
			i += 3
		default:
			return "", ErrInvalidMUTF8
		}
	}
	return string(out), nil
}

// EncodeModifiedUTF8 converts a Go string to the class-file string encoding.
func EncodeModifiedUTF8(s string) []byte {
	plain := true
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] >= 0x80 {
			plain = false
			break
		}
	}
	if plain {
		return []byte(s)
	}

	out := make([]byte, 0, len(s)+8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == 0:
			out = append(out, 0xC0, 0x80)
		case r == utf8.RuneError && size == 1:
			// raw surrogate bytes produced by DecodeModifiedUTF8
			if i+2 < len(s) && s[i] == 0xED {
				out = append(out, s[i], s[i+1], s[i+2])
				i += 3
				continue
			}
			out = append(out, s[i])
		case r < 0x80:
			out = append(out, byte(r))
		case r < 0x800:
			out = append(out, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			out = append(out, 0xE0|byte(r>>12), 0x80|byte(r>>6&0x3F), 0x80|byte(r&0x3F))
		default:
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			out = append(out, 0xE0|byte(hi>>12), 0x80|byte(hi>>6&0x3F), 0x80|byte(hi&0x3F))
			out = append(out, 0xE0|byte(lo>>12), 0x80|byte(lo>>6&0x3F), 0x80|byte(lo&0x3F))
		}
		i += size
	}
	return out
}
