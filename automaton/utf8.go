package automaton

import "unicode/utf8"

// byteRange is an inclusive range of byte values.
type byteRange struct {
	lo, hi byte
}

// utf8Sequences returns the UTF-8 encodings of the runes in [lo, hi] as a
// list of byte range sequences. Every encoded rune matches exactly one
// sequence and every byte string matching a sequence is a valid encoding of
// a rune in the range. Surrogates are excluded.
func utf8Sequences(lo, hi rune) [][]byteRange {
	type span struct{ lo, hi rune }
	var out [][]byteRange
	stack := []span{{lo, hi}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
	split:
		for {
			if s.lo > s.hi {
				break
			}
			if s.lo <= 0xDFFF && s.hi >= 0xD800 {
				if s.hi > 0xDFFF {
					stack = append(stack, span{0xE000, s.hi})
				}
				s.hi = 0xD7FF
				continue
			}
			for _, limit := range [...]rune{0x7F, 0x7FF, 0xFFFF} {
				if s.lo <= limit && limit < s.hi {
					stack = append(stack, span{limit + 1, s.hi})
					s.hi = limit
					continue split
				}
			}
			if s.hi <= 0x7F {
				out = append(out, []byteRange{{byte(s.lo), byte(s.hi)}})
				break
			}
			for i := 1; i < utf8.UTFMax; i++ {
				m := rune(1)<<(6*i) - 1
				if s.lo&^m != s.hi&^m {
					if s.lo&m != 0 {
						stack = append(stack, span{s.lo | m + 1, s.hi})
						s.hi = s.lo | m
						continue split
					}
					if s.hi&m != m {
						stack = append(stack, span{s.hi &^ m, s.hi})
						s.hi = s.hi&^m - 1
						continue split
					}
				}
			}
			var a, b [utf8.UTFMax]byte
			n := utf8.EncodeRune(a[:], s.lo)
			utf8.EncodeRune(b[:], s.hi)
			seq := make([]byteRange, n)
			for i := range n {
				seq[i] = byteRange{a[i], b[i]}
			}
			out = append(out, seq)
			break
		}
	}
	return out
}
