// Package automaton compiles regular expressions into byte-level DFAs and
// matches with them without backtracking.
//
// A pattern is compiled into a pair of DFAs: a forward DFA with
// leftmost-first semantics that finds where the leftmost match ends, and a
// reverse DFA that scans back from that end to find where the match
// starts. Matching cost is linear in the input and independent of the
// pattern's structure.
//
// Patterns use RE2 syntax (regexp/syntax) with Perl flags. Text anchors
// (^, $, \A, \z) are supported; multi-line anchors and word boundaries are
// not. Matching is defined over valid UTF-8: "." and character classes
// never match bytes that are not part of a valid encoding.
//
// DFAs serialize to byte buffers under a Profile that fixes byte order and
// buffer alignment:
//
//	re, err := automaton.Compile(`Amount: \$[0-9,.]+`)
//	if err != nil {
//		return err
//	}
//	fwd, _ := re.Forward().Serialize(automaton.DefaultProfile)
//	rev, _ := re.Reverse().Serialize(automaton.DefaultProfile)
//
//	// later, possibly on another machine
//	re, err = automaton.Load(fwd, rev, automaton.DefaultProfile)
//	matches := re.FindAllIndex(input, 2)
package automaton

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrSyntax        = errors.New("automaton: invalid pattern")
	ErrUnsupported   = errors.New("automaton: unsupported pattern construct")
	ErrTooManyStates = errors.New("automaton: state limit exceeded")
	ErrFormat        = errors.New("automaton: malformed serialized DFA")
	ErrProfile       = errors.New("automaton: profile mismatch")
	ErrUnaligned     = errors.New("automaton: unaligned buffer")
)

// Regex is a bidirectional matcher built from a forward and a reverse DFA.
// It is safe for concurrent use.
type Regex struct {
	fwd *DFA
	rev *DFA
}

// Compile compiles pattern with the default Config.
func Compile(pattern string) (*Regex, error) {
	return Config{}.Compile(pattern)
}

// Compile compiles pattern into a forward and a reverse DFA.
func (c Config) Compile(pattern string) (*Regex, error) {
	re, err := parse(pattern)
	if err != nil {
		return nil, err
	}
	fn, err := compileNFA(re, false)
	if err != nil {
		return nil, err
	}
	rn, err := compileNFA(re, true)
	if err != nil {
		return nil, err
	}
	fwd, err := determinize(fn, fn.unanchored, LeftmostFirst, false, c.maxStates())
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	rev, err := determinize(rn, rn.start, All, true, c.maxStates())
	if err != nil {
		return nil, fmt.Errorf("reverse: %w", err)
	}
	return &Regex{fwd: fwd, rev: rev}, nil
}

// New pairs a forward and a reverse DFA compiled from the same pattern.
func New(forward, reverse *DFA) (*Regex, error) {
	if forward == nil || reverse == nil {
		return nil, fmt.Errorf("%w: missing DFA", ErrFormat)
	}
	if forward.reverse || forward.kind != LeftmostFirst {
		return nil, fmt.Errorf("%w: forward DFA must be a leftmost-first forward automaton", ErrFormat)
	}
	if !reverse.reverse || reverse.kind != All {
		return nil, fmt.Errorf("%w: reverse DFA must be an all-matches reverse automaton", ErrFormat)
	}
	return &Regex{fwd: forward, rev: reverse}, nil
}

// Load deserializes both DFAs under p and pairs them.
func Load(forward, reverse []byte, p Profile) (*Regex, error) {
	fwd, err := Deserialize(forward, p)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	rev, err := Deserialize(reverse, p)
	if err != nil {
		return nil, fmt.Errorf("reverse: %w", err)
	}
	return New(fwd, rev)
}

// Forward returns the forward DFA.
func (r *Regex) Forward() *DFA { return r.fwd }

// Reverse returns the reverse DFA.
func (r *Regex) Reverse() *DFA { return r.rev }

// Find returns the leftmost-first match in h that starts at or after at.
// Text anchors refer to the whole of h, not to at.
func (r *Regex) Find(h []byte, at int) (start, end int, ok bool) {
	if at < 0 || at > len(h) {
		return -1, -1, false
	}
	end = r.fwd.searchForward(h, at)
	if end < 0 {
		return -1, -1, false
	}
	start = r.rev.searchReverse(h, at, end)
	if start < 0 {
		return -1, -1, false
	}
	return start, end, true
}

// Match reports whether h contains a match.
func (r *Regex) Match(h []byte) bool {
	return r.fwd.searchForward(h, 0) >= 0
}

// FindAllIndex returns the successive non-overlapping matches in h, at most
// n of them, with the same semantics as regexp.Regexp.FindAllIndex: an
// empty match directly after a previous match is skipped. A negative n
// returns all matches.
func (r *Regex) FindAllIndex(h []byte, n int) [][]int {
	if n < 0 {
		n = len(h) + 1
	}
	var out [][]int
	for pos, prevEnd := 0, -1; len(out) < n && pos <= len(h); {
		start, end, ok := r.Find(h, pos)
		if !ok {
			break
		}
		accept := true
		if end == pos {
			if start == prevEnd {
				accept = false
			}
			if _, width := utf8.DecodeRune(h[pos:]); width > 0 {
				pos += width
			} else {
				pos = len(h) + 1
			}
		} else {
			pos = end
		}
		prevEnd = end
		if accept {
			out = append(out, []int{start, end})
		}
	}
	return out
}

// Count returns the number of matches FindAllIndex would report, stopping
// at limit when limit is non-negative.
func (r *Regex) Count(h []byte, limit int) int {
	return len(r.FindAllIndex(h, limit))
}

// searchForward returns the end of the leftmost-first match starting at or
// after at, or -1.
func (d *DFA) searchForward(h []byte, at int) int {
	s := d.startMid
	if at == 0 {
		s = d.startText
	}
	end := -1
	if d.flags[s]&flagMatch != 0 {
		end = at
	}
	for i := at; i < len(h); i++ {
		s = d.next(s, h[i])
		if s == deadState {
			return end
		}
		if d.flags[s]&flagMatch != 0 {
			end = i + 1
		}
	}
	if d.flags[s]&flagEOIMatch != 0 {
		end = len(h)
	}
	return end
}

// searchReverse returns the earliest start of a match ending at end that
// does not begin before at, or -1.
func (d *DFA) searchReverse(h []byte, at, end int) int {
	s := d.startMid
	if end == len(h) {
		s = d.startText
	}
	start := -1
	if d.flags[s]&flagMatch != 0 {
		start = end
	}
	for i := end - 1; i >= at; i-- {
		s = d.next(s, h[i])
		if s == deadState {
			return start
		}
		if d.flags[s]&flagMatch != 0 {
			start = i
		}
	}
	if at == 0 && d.flags[s]&flagEOIMatch != 0 {
		start = 0
	}
	return start
}
