package pattern

import (
	"fmt"
	"regexp"

	"github.com/synqronlabs/mailproof/automaton"
)

// Compiler builds compiled patterns from specs. Compilation runs against
// trusted input and fails unless the pattern matches it exactly once, so a
// Set that compiles is usable by the verifier for the same input.
type Compiler struct {
	// Profile is the serialization target. The zero value means
	// automaton.DefaultProfile.
	Profile automaton.Profile

	// Automaton bounds automaton construction.
	Automaton automaton.Config
}

func (c *Compiler) profile() automaton.Profile {
	if c.Profile == (automaton.Profile{}) {
		return automaton.DefaultProfile
	}
	return c.Profile
}

// Compile compiles spec and checks it against input.
func (c *Compiler) Compile(spec Spec, input []byte) (CompiledPattern, error) {
	if err := spec.Validate(); err != nil {
		return CompiledPattern{}, err
	}
	p := c.profile()
	if err := p.Validate(); err != nil {
		return CompiledPattern{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	re, err := c.Automaton.Compile(spec.Expr())
	if err != nil {
		return CompiledPattern{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	matches := re.FindAllIndex(input, 2)
	if err := countError(len(matches)); err != nil {
		return CompiledPattern{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}

	var out CompiledPattern
	if spec.IsCapture() {
		capture, err := oracle(spec, input, matches[0])
		if err != nil {
			return CompiledPattern{}, err
		}
		out.HasCapture = true
		out.Capture = capture
	}

	if out.Forward, err = re.Forward().Serialize(p); err != nil {
		return CompiledPattern{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if out.Backward, err = re.Reverse().Serialize(p); err != nil {
		return CompiledPattern{}, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	return out, nil
}

// oracle extracts the capture of a triple with a capturing regexp and
// checks that it agrees with the automaton match.
func oracle(spec Spec, input []byte, match []int) (string, error) {
	prefix, err := regexp.Compile(spec.Prefix)
	if err != nil {
		return "", fmt.Errorf("%w: prefix: %w", ErrCompile, err)
	}
	group := prefix.NumSubexp() + 1

	re, err := regexp.Compile("(?:" + spec.Prefix + ")(" + spec.Capture + ")(?:" + spec.Suffix + ")")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompile, err)
	}
	all := re.FindAllSubmatchIndex(input, 2)
	if err := countError(len(all)); err != nil {
		return "", fmt.Errorf("%w: capturing pattern: %w", ErrCompile, err)
	}
	loc := all[0]
	if loc[0] != match[0] || loc[1] != match[1] {
		return "", fmt.Errorf("%w: capturing pattern matched [%d,%d), automaton matched [%d,%d)",
			ErrCompile, loc[0], loc[1], match[0], match[1])
	}
	lo, hi := loc[2*group], loc[2*group+1]
	if lo < 0 {
		return "", fmt.Errorf("%w: capture group did not participate in the match", ErrCompile)
	}

	capture := string(input[lo:hi])
	if err := checkCapture(input[match[0]:match[1]], capture); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompile, err)
	}
	return capture, nil
}

// CompileSet compiles every spec of specs against its region of t.
func (c *Compiler) CompileSet(specs SpecSet, t Targets) (*Set, error) {
	set := &Set{Profile: c.profile()}
	for _, r := range Regions {
		var out []CompiledPattern
		for i, spec := range specs.specs(r) {
			cp, err := c.Compile(spec, t.Region(r))
			if err != nil {
				return nil, fmt.Errorf("%s pattern %d: %w", r, i, err)
			}
			out = append(out, cp)
		}
		switch r {
		case RegionHeader:
			set.Header = out
		case RegionBody:
			set.Body = out
		case RegionAttachment:
			set.Attachment = out
		}
	}
	return set, nil
}

func countError(n int) error {
	switch {
	case n == 0:
		return ErrNoMatch
	case n > 1:
		return ErrAmbiguous
	}
	return nil
}
