// Package pattern compiles declarative patterns into serialized automata
// and verifies them against message regions.
//
// A pattern must match its region exactly once. Zero matches and several
// matches are both failures, at compile time and at verification time.
// Capture patterns additionally disclose one substring: the compiler
// extracts it from trusted input, and the verifier requires it to occur
// exactly once inside the single match.
//
// Compilation and verification are split so that verification never
// builds an automaton from a pattern string:
//
//	c := &pattern.Compiler{}
//	set, err := c.CompileSet(pattern.SpecSet{
//		Body: []pattern.Spec{pattern.Capture("Amount: ", `\$[0-9,.]+`, "")},
//	}, targets)
//	...
//	report, err := pattern.NewVerifier(pattern.VerifierConfig{}).Verify(ctx, set, targets)
//	// report.Literals == []string{"$1,234.56"}
package pattern

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/synqronlabs/mailproof/automaton"
)

var (
	ErrInvalidSpec = errors.New("pattern: invalid pattern spec")
	ErrCompile     = errors.New("pattern: compilation failed")
	ErrArtifact    = errors.New("pattern: invalid compiled pattern")

	// ErrMismatch is the category of every verification failure.
	ErrMismatch        = errors.New("pattern: mismatch")
	ErrNoMatch         = fmt.Errorf("%w: no match", ErrMismatch)
	ErrAmbiguous       = fmt.Errorf("%w: more than one match", ErrMismatch)
	ErrInvalidUTF8     = fmt.Errorf("%w: match is not valid UTF-8", ErrMismatch)
	ErrCaptureMismatch = fmt.Errorf("%w: capture does not occur exactly once in the match", ErrMismatch)
)

// Region identifies the part of a message a pattern is matched against.
type Region uint8

const (
	RegionHeader Region = iota
	RegionBody
	RegionAttachment
)

// Regions lists the regions in output order.
var Regions = [...]Region{RegionHeader, RegionBody, RegionAttachment}

func (r Region) String() string {
	switch r {
	case RegionHeader:
		return "header"
	case RegionBody:
		return "body"
	case RegionAttachment:
		return "attachment"
	}
	return fmt.Sprintf("Region(%d)", uint8(r))
}

// Spec is a declarative pattern: either a plain pattern that must match, or
// a prefix, capture, suffix triple whose capture part is disclosed.
type Spec struct {
	Pattern string

	Prefix  string
	Capture string
	Suffix  string
}

// Match returns a spec for a pattern that must match without disclosing
// anything.
func Match(pattern string) Spec {
	return Spec{Pattern: pattern}
}

// Capture returns a spec that discloses the text matched by capture.
func Capture(prefix, capture, suffix string) Spec {
	return Spec{Prefix: prefix, Capture: capture, Suffix: suffix}
}

// IsCapture reports whether s discloses a capture.
func (s Spec) IsCapture() bool {
	return s.Pattern == ""
}

// Validate reports whether s is either a plain pattern or a triple.
func (s Spec) Validate() error {
	triple := s.Prefix != "" || s.Capture != "" || s.Suffix != ""
	switch {
	case s.Pattern != "" && triple:
		return fmt.Errorf("%w: pattern and prefix/capture/suffix are exclusive", ErrInvalidSpec)
	case s.Pattern == "" && !triple:
		return fmt.Errorf("%w: empty pattern", ErrInvalidSpec)
	case s.Pattern == "" && s.Capture == "":
		return fmt.Errorf("%w: triple without a capture", ErrInvalidSpec)
	}
	return nil
}

// Expr returns the expression the automata are built from. The parts of a
// triple are grouped without capturing so an alternation in one part
// cannot extend into another.
func (s Spec) Expr() string {
	if !s.IsCapture() {
		return s.Pattern
	}
	return "(?:" + s.Prefix + ")(?:" + s.Capture + ")(?:" + s.Suffix + ")"
}

// CompiledPattern is the runtime artifact of a Spec: a forward and a
// reverse DFA serialized under the set's profile, and for capture patterns
// the substring the compiler extracted.
type CompiledPattern struct {
	Forward  []byte
	Backward []byte

	HasCapture bool
	Capture    string
}

// Set is an ordered collection of compiled patterns partitioned by region.
type Set struct {
	Profile    automaton.Profile
	Header     []CompiledPattern
	Body       []CompiledPattern
	Attachment []CompiledPattern
}

// Patterns returns the patterns of region r.
func (s *Set) Patterns(r Region) []CompiledPattern {
	if s == nil {
		return nil
	}
	switch r {
	case RegionHeader:
		return s.Header
	case RegionBody:
		return s.Body
	case RegionAttachment:
		return s.Attachment
	}
	return nil
}

// Len returns the number of patterns in all regions.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Header) + len(s.Body) + len(s.Attachment)
}

// SpecSet is the declarative form of a Set.
type SpecSet struct {
	Header     []Spec
	Body       []Spec
	Attachment []Spec
}

func (s SpecSet) specs(r Region) []Spec {
	switch r {
	case RegionHeader:
		return s.Header
	case RegionBody:
		return s.Body
	case RegionAttachment:
		return s.Attachment
	}
	return nil
}

// Targets holds the buffers patterns are matched against.
type Targets struct {
	Header     []byte
	Body       []byte
	Attachment []byte
}

// Region returns the buffer of region r.
func (t Targets) Region(r Region) []byte {
	switch r {
	case RegionHeader:
		return t.Header
	case RegionBody:
		return t.Body
	case RegionAttachment:
		return t.Attachment
	}
	return nil
}

// checkCapture requires span to be valid UTF-8 containing capture exactly
// once. Overlapping occurrences count separately.
func checkCapture(span []byte, capture string) error {
	if !utf8.Valid(span) {
		return ErrInvalidUTF8
	}
	s := string(span)
	i := strings.Index(s, capture)
	if i < 0 {
		return ErrCaptureMismatch
	}
	if i < len(s) && strings.Contains(s[i+1:], capture) {
		return ErrCaptureMismatch
	}
	return nil
}
