package automaton

import (
	"fmt"
	"regexp/syntax"
	"unicode"
)

// maxNFAStates bounds the size of a compiled pattern.
const maxNFAStates = 1 << 18

type look uint8

const (
	lookBeginText look = iota + 1
	lookEndText
)

type stateKind uint8

const (
	kindRange stateKind = iota
	kindSplit
	kindEmpty
	kindLook
	kindMatch
	kindFail
)

// nstate is a state of a byte-level Thompson NFA.
type nstate struct {
	kind   stateKind
	lo, hi byte  // kindRange
	look   look  // kindLook
	next   int   // kindRange, kindEmpty, kindLook
	alts   []int // kindSplit, in priority order
}

type nfa struct {
	states []nstate

	// start matches the pattern anchored at the search position.
	// unanchored prefixes start with a lazy any-byte loop.
	start      int
	unanchored int
}

func parse(pattern string) (*syntax.Regexp, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	return re.Simplify(), nil
}

// compileNFA builds the NFA for re. With reverse set, the NFA matches the
// reversed bytes of every string re matches, with text anchors swapped.
func compileNFA(re *syntax.Regexp, reverse bool) (*nfa, error) {
	c := &nfaCompiler{n: &nfa{}, reverse: reverse}
	match := c.add(nstate{kind: kindMatch})
	start, err := c.compile(re, match)
	if err != nil {
		return nil, err
	}
	u := c.add(nstate{kind: kindSplit})
	loop := c.add(nstate{kind: kindRange, lo: 0x00, hi: 0xFF, next: u})
	c.n.states[u].alts = []int{start, loop}
	if len(c.n.states) > maxNFAStates {
		return nil, ErrTooManyStates
	}
	c.n.start = start
	c.n.unanchored = u
	return c.n, nil
}

type nfaCompiler struct {
	n       *nfa
	reverse bool
}

func (c *nfaCompiler) add(s nstate) int {
	c.n.states = append(c.n.states, s)
	return len(c.n.states) - 1
}

// compile adds the states for re, continuing at next once re has matched,
// and returns the entry state.
func (c *nfaCompiler) compile(re *syntax.Regexp, next int) (int, error) {
	if len(c.n.states) > maxNFAStates {
		return 0, ErrTooManyStates
	}
	greedy := re.Flags&syntax.NonGreedy == 0

	switch re.Op {
	case syntax.OpNoMatch:
		return c.add(nstate{kind: kindFail}), nil

	case syntax.OpEmptyMatch:
		return next, nil

	case syntax.OpLiteral:
		fold := re.Flags&syntax.FoldCase != 0
		runes := re.Rune
		id := next
		for i := range runes {
			r := runes[len(runes)-1-i]
			if c.reverse {
				r = runes[i]
			}
			ranges := []rune{r, r}
			if fold {
				ranges = foldOrbit(r)
			}
			id = c.class(ranges, id)
		}
		return id, nil

	case syntax.OpCharClass:
		return c.class(re.Rune, next), nil

	case syntax.OpAnyCharNotNL:
		return c.class([]rune{0, '\n' - 1, '\n' + 1, unicode.MaxRune}, next), nil

	case syntax.OpAnyChar:
		return c.class([]rune{0, unicode.MaxRune}, next), nil

	case syntax.OpBeginText, syntax.OpEndText:
		l := lookBeginText
		if (re.Op == syntax.OpEndText) != c.reverse {
			l = lookEndText
		}
		return c.add(nstate{kind: kindLook, look: l, next: next}), nil

	case syntax.OpBeginLine, syntax.OpEndLine:
		return 0, fmt.Errorf("%w: multi-line anchors", ErrUnsupported)

	case syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return 0, fmt.Errorf("%w: word boundaries", ErrUnsupported)

	case syntax.OpCapture:
		return c.compile(re.Sub[0], next)

	case syntax.OpStar, syntax.OpPlus:
		if re.Op == syntax.OpStar && nullable(re.Sub[0]) {
			// x* is (x+)? when x can match empty, as in regexp.
			plus := &syntax.Regexp{Op: syntax.OpPlus, Flags: re.Flags, Sub: re.Sub[:1]}
			return c.compile(&syntax.Regexp{Op: syntax.OpQuest, Flags: re.Flags, Sub: []*syntax.Regexp{plus}}, next)
		}
		split := c.add(nstate{kind: kindSplit})
		body, err := c.compile(re.Sub[0], split)
		if err != nil {
			return 0, err
		}
		c.n.states[split].alts = order(greedy, body, next)
		if re.Op == syntax.OpPlus {
			return body, nil
		}
		return split, nil

	case syntax.OpQuest:
		body, err := c.compile(re.Sub[0], next)
		if err != nil {
			return 0, err
		}
		return c.add(nstate{kind: kindSplit, alts: order(greedy, body, next)}), nil

	case syntax.OpConcat:
		id := next
		for i := range re.Sub {
			sub := re.Sub[len(re.Sub)-1-i]
			if c.reverse {
				sub = re.Sub[i]
			}
			var err error
			if id, err = c.compile(sub, id); err != nil {
				return 0, err
			}
		}
		return id, nil

	case syntax.OpAlternate:
		alts := make([]int, 0, len(re.Sub))
		for _, sub := range re.Sub {
			id, err := c.compile(sub, next)
			if err != nil {
				return 0, err
			}
			alts = append(alts, id)
		}
		return c.add(nstate{kind: kindSplit, alts: alts}), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupported, re.Op)
}

// class adds an alternation over the UTF-8 encodings of the rune ranges,
// given as lo, hi pairs.
func (c *nfaCompiler) class(ranges []rune, next int) int {
	var alts []int
	for i := 0; i+1 < len(ranges); i += 2 {
		for _, seq := range utf8Sequences(ranges[i], ranges[i+1]) {
			alts = append(alts, c.chain(seq, next))
		}
	}
	switch len(alts) {
	case 0:
		return c.add(nstate{kind: kindFail})
	case 1:
		return alts[0]
	}
	return c.add(nstate{kind: kindSplit, alts: alts})
}

func (c *nfaCompiler) chain(seq []byteRange, next int) int {
	id := next
	for i := range seq {
		r := seq[len(seq)-1-i]
		if c.reverse {
			r = seq[i]
		}
		id = c.add(nstate{kind: kindRange, lo: r.lo, hi: r.hi, next: id})
	}
	return id
}

// nullable reports whether re can match the empty string, treating
// empty-width assertions as matching.
func nullable(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpEmptyMatch, syntax.OpStar, syntax.OpQuest,
		syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return true
	case syntax.OpLiteral:
		return len(re.Rune) == 0
	case syntax.OpCapture, syntax.OpPlus:
		return nullable(re.Sub[0])
	case syntax.OpRepeat:
		return re.Min == 0 || nullable(re.Sub[0])
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if !nullable(sub) {
				return false
			}
		}
		return true
	case syntax.OpAlternate:
		for _, sub := range re.Sub {
			if nullable(sub) {
				return true
			}
		}
	}
	return false
}

func order(greedy bool, body, next int) []int {
	if greedy {
		return []int{body, next}
	}
	return []int{next, body}
}

// foldOrbit returns the simple case folding orbit of r as rune ranges.
func foldOrbit(r rune) []rune {
	out := []rune{r, r}
	for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
		out = append(out, f, f)
	}
	return out
}
