package automaton

import (
	"encoding/binary"
	"slices"
)

// MatchKind selects which matches a DFA reports.
type MatchKind uint8

const (
	// LeftmostFirst reports the match a backtracking engine would prefer,
	// honoring greedy and lazy repetition and alternation order.
	LeftmostFirst MatchKind = iota
	// All reports every position at which some match ends. Reverse DFAs use
	// it to find the earliest start of a match.
	All
)

func (k MatchKind) String() string {
	switch k {
	case LeftmostFirst:
		return "leftmost-first"
	case All:
		return "all"
	}
	return "unknown"
}

const (
	flagMatch uint8 = 1 << iota
	flagEOIMatch
)

// deadState is the state every DFA reaches once no match is possible.
const deadState = 0

// DefaultMaxStates is the state limit used when Config.MaxStates is zero.
const DefaultMaxStates = 1 << 14

// DFA is a deterministic automaton over bytes. Input bytes are mapped to
// equivalence classes before lookup, so the transition table has one column
// per class.
//
// A DFA is immutable and safe for concurrent use. A DFA loaded with
// Deserialize may share memory with the buffer it was loaded from.
type DFA struct {
	reverse bool
	kind    MatchKind

	classes [256]byte
	stride  int
	trans   []uint32
	flags   []uint8

	// startText is used when the search begins at the edge of the input
	// (offset 0 for forward DFAs, the end for reverse DFAs).
	startText uint32
	startMid  uint32
}

// Reverse reports whether d scans its input from right to left.
func (d *DFA) Reverse() bool { return d.reverse }

// Kind returns the match semantics d was built with.
func (d *DFA) Kind() MatchKind { return d.kind }

// NumStates returns the number of states including the dead state.
func (d *DFA) NumStates() int { return len(d.flags) }

// NumClasses returns the number of byte equivalence classes.
func (d *DFA) NumClasses() int { return d.stride }

func (d *DFA) next(s uint32, b byte) uint32 {
	return d.trans[int(s)*d.stride+int(d.classes[b])]
}

// Config controls automaton construction.
type Config struct {
	// MaxStates limits the number of states of each DFA. Zero means
	// DefaultMaxStates.
	MaxStates int
}

func (c Config) maxStates() int {
	if c.MaxStates <= 0 {
		return DefaultMaxStates
	}
	return c.MaxStates
}

// determinizer builds a DFA by subset construction. A DFA state is the
// ordered set of NFA states the search can be in. For leftmost-first
// searches the order is thread priority and everything after a match state
// is dropped, so a found match cuts off every lower priority thread,
// including the unanchored prefix loop.
type determinizer struct {
	nfa     *nfa
	kind    MatchKind
	limit   int
	reps    []byte
	dfa     *DFA
	index   map[string]uint32
	sets    [][]int
	seen    []bool
	touched []int
	stack   []int
	cur     []int
}

func determinize(n *nfa, root int, kind MatchKind, reverse bool, limit int) (*DFA, error) {
	d := &determinizer{
		nfa:   n,
		kind:  kind,
		limit: limit,
		dfa:   &DFA{reverse: reverse, kind: kind},
		index: make(map[string]uint32),
		seen:  make([]bool, len(n.states)),
	}
	d.dfa.classes, d.reps = byteClasses(n)
	d.dfa.stride = len(d.reps)

	if _, err := d.intern(nil, false); err != nil {
		return nil, err
	}

	d.reset()
	d.add(root, true, false)
	start, err := d.intern(d.cur, true)
	if err != nil {
		return nil, err
	}
	d.dfa.startText = start

	d.reset()
	d.add(root, false, false)
	if d.dfa.startMid, err = d.intern(d.cur, false); err != nil {
		return nil, err
	}

	for i := 1; i < len(d.sets); i++ {
		for class, b := range d.reps {
			next, err := d.step(d.sets[i], b)
			if err != nil {
				return nil, err
			}
			d.dfa.trans[i*d.dfa.stride+class] = next
		}
	}
	return d.dfa, nil
}

func (d *determinizer) reset() {
	for _, id := range d.touched {
		d.seen[id] = false
	}
	d.touched = d.touched[:0]
	d.cur = d.cur[:0]
}

// add appends the states reachable from id without consuming input to
// d.cur. begin and end report whether the text anchors hold at the current
// position. An end-of-text assertion that does not hold yet stays in the
// set so the end-of-input check can follow it. It reports whether a match
// state was reached.
func (d *determinizer) add(id int, begin, end bool) bool {
	matched := false
	d.stack = append(d.stack[:0], id)
	for len(d.stack) > 0 {
		id := d.stack[len(d.stack)-1]
		d.stack = d.stack[:len(d.stack)-1]
		if d.seen[id] {
			continue
		}
		d.seen[id] = true
		d.touched = append(d.touched, id)

		s := &d.nfa.states[id]
		switch s.kind {
		case kindRange:
			d.cur = append(d.cur, id)
		case kindMatch:
			d.cur = append(d.cur, id)
			matched = true
			if d.kind == LeftmostFirst {
				d.stack = d.stack[:0]
			}
		case kindEmpty:
			d.stack = append(d.stack, s.next)
		case kindSplit:
			for i := len(s.alts) - 1; i >= 0; i-- {
				d.stack = append(d.stack, s.alts[i])
			}
		case kindLook:
			switch {
			case s.look == lookBeginText && begin, s.look == lookEndText && end:
				d.stack = append(d.stack, s.next)
			case s.look == lookEndText:
				d.cur = append(d.cur, id)
			}
		}
	}
	return matched
}

func (d *determinizer) step(set []int, b byte) (uint32, error) {
	d.reset()
	for _, id := range set {
		s := &d.nfa.states[id]
		if s.kind != kindRange || b < s.lo || b > s.hi {
			continue
		}
		if d.add(s.next, false, false) && d.kind == LeftmostFirst {
			break
		}
	}
	return d.intern(d.cur, false)
}

// matchesAtEOI reports whether set reaches a match when the input ends at
// the current position.
func (d *determinizer) matchesAtEOI(set []int, begin bool) bool {
	d.reset()
	for _, id := range set {
		if d.add(id, begin, true) {
			return true
		}
	}
	return false
}

// intern returns the DFA state for set, adding it if it is new. begin marks
// start states at the edge of the input, where a beginning-of-text assertion
// reached through a pending end-of-text assertion still holds.
func (d *determinizer) intern(set []int, begin bool) (uint32, error) {
	if len(set) == 0 && len(d.sets) > 0 {
		return deadState, nil
	}
	set = slices.Clone(set)
	if d.kind == All {
		slices.Sort(set)
	}
	key := make([]byte, 1, 1+4*len(set))
	if begin {
		key[0] = 1
	}
	for _, id := range set {
		key = binary.LittleEndian.AppendUint32(key, uint32(id))
	}
	if id, ok := d.index[string(key)]; ok {
		return id, nil
	}
	if len(d.sets) >= d.limit {
		return 0, ErrTooManyStates
	}

	var flags uint8
	for _, id := range set {
		if d.nfa.states[id].kind == kindMatch {
			flags |= flagMatch
		}
	}
	if len(set) > 0 && d.matchesAtEOI(set, begin) {
		flags |= flagEOIMatch
	}

	id := uint32(len(d.sets))
	d.index[string(key)] = id
	d.sets = append(d.sets, set)
	d.dfa.flags = append(d.dfa.flags, flags)
	d.dfa.trans = append(d.dfa.trans, make([]uint32, d.dfa.stride)...)
	return id, nil
}

// byteClasses partitions the byte values into classes no NFA transition
// distinguishes, and returns the class map with one representative byte
// per class.
func byteClasses(n *nfa) ([256]byte, []byte) {
	var boundary [257]bool
	for _, s := range n.states {
		if s.kind == kindRange {
			boundary[s.lo] = true
			boundary[int(s.hi)+1] = true
		}
	}
	var classes [256]byte
	var reps []byte
	class := -1
	for b := range 256 {
		if b == 0 || boundary[b] {
			class++
			reps = append(reps, byte(b))
		}
		classes[b] = byte(class)
	}
	return classes, reps
}
