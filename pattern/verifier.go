package pattern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/synqronlabs/mailproof/automaton"
)

// State is the progress of one pattern check.
type State uint8

const (
	NotChecked State = iota
	CountingMatches
	CaptureCheck
	Matched
	Failed
)

func (s State) String() string {
	switch s {
	case NotChecked:
		return "not_checked"
	case CountingMatches:
		return "counting_matches"
	case CaptureCheck:
		return "capture_check"
	case Matched:
		return "matched"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Strategy selects how the patterns of a set are evaluated.
type Strategy uint8

const (
	// Sequential checks patterns one at a time in declaration order.
	Sequential Strategy = iota
	// Parallel checks patterns concurrently. The error, the literals and
	// every check state are identical to Sequential.
	Parallel
)

func (s Strategy) String() string {
	if s == Parallel {
		return "parallel"
	}
	return "sequential"
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Strategy Strategy

	// Concurrency limits the goroutines of the Parallel strategy. Zero
	// means GOMAXPROCS.
	Concurrency int

	// Profile is the serialization profile sets must declare. The zero
	// value means automaton.DefaultProfile.
	Profile automaton.Profile

	// Logger receives per-pattern debug records. Defaults to slog.Default().
	Logger *slog.Logger
}

// Verifier replays compiled patterns against message regions.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier returns a Verifier for cfg.
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.Profile == (automaton.Profile{}) {
		cfg.Profile = automaton.DefaultProfile
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Verifier{cfg: cfg}
}

// Check is the outcome of one pattern.
type Check struct {
	Region Region
	Index  int
	State  State

	// Matches is the number of matches found, counted up to two.
	Matches    int
	Start, End int
	Capture    string
	Err        error
}

// Report is the outcome of verifying a set.
type Report struct {
	// Checks holds one entry per pattern in output order: header patterns,
	// then body patterns, then attachment patterns, each in declaration
	// order. Patterns after the first failure are left NotChecked.
	Checks []Check

	// Literals holds the captures of capture patterns in output order. It
	// is nil unless every pattern matched.
	Literals []string
}

// Verified reports whether every pattern matched.
func (r *Report) Verified() bool {
	for _, c := range r.Checks {
		if c.State != Matched {
			return false
		}
	}
	return true
}

type job struct {
	pattern *CompiledPattern
	target  []byte
}

// Verify checks every pattern of set against its region of t. Evaluation
// stops at the first failing pattern; the returned error is the failure of
// the first failing pattern in output order and wraps ErrMismatch for
// match failures or ErrArtifact for unusable patterns. A nil set verifies
// trivially.
func (v *Verifier) Verify(ctx context.Context, set *Set, t Targets) (*Report, error) {
	report := &Report{}
	if set.Len() == 0 {
		return report, nil
	}
	if set.Profile != v.cfg.Profile {
		return report, fmt.Errorf("%w: %w: set built for %s, verifier expects %s",
			ErrArtifact, automaton.ErrProfile, set.Profile, v.cfg.Profile)
	}

	var jobs []job
	for _, r := range Regions {
		patterns := set.Patterns(r)
		for i := range patterns {
			report.Checks = append(report.Checks, Check{Region: r, Index: i})
			jobs = append(jobs, job{pattern: &patterns[i], target: t.Region(r)})
		}
	}

	var err error
	if v.cfg.Strategy == Parallel && len(jobs) > 1 {
		err = v.parallel(ctx, jobs, report.Checks)
	} else {
		err = v.sequential(ctx, jobs, report.Checks)
	}
	if err != nil {
		return report, err
	}

	for i := range report.Checks {
		c := &report.Checks[i]
		if c.State == Failed {
			return report, fmt.Errorf("%s pattern %d: %w", c.Region, c.Index, c.Err)
		}
	}
	for i, c := range report.Checks {
		if jobs[i].pattern.HasCapture {
			report.Literals = append(report.Literals, c.Capture)
		}
	}
	return report, nil
}

func (v *Verifier) sequential(ctx context.Context, jobs []job, checks []Check) error {
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.run(jobs[i], &checks[i])
		if checks[i].State == Failed {
			return nil
		}
	}
	return nil
}

// errFailed stops the group once a pattern fails. The failure itself is
// read back from the checks so the reported error does not depend on
// scheduling.
var errFailed = errors.New("pattern failed")

func (v *Verifier) parallel(ctx context.Context, jobs []job, checks []Check) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Concurrency)
	for i := range jobs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			v.run(jobs[i], &checks[i])
			if checks[i].State == Failed {
				return errFailed
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, errFailed) {
		return err
	}
	// A failure cancels the group, possibly before patterns declared
	// earlier have run. Finish those in order so the reported failure is
	// the same as with Sequential, then forget what ran after it.
	if err := v.sequential(ctx, jobs, checks); err != nil {
		return err
	}
	failed := false
	for i := range checks {
		if failed {
			checks[i] = Check{Region: checks[i].Region, Index: checks[i].Index}
		}
		failed = failed || checks[i].State == Failed
	}
	return nil
}

// run advances c from NotChecked to Matched or Failed.
func (v *Verifier) run(j job, c *Check) {
	if c.State != NotChecked {
		return
	}
	defer func() {
		v.cfg.Logger.Debug("pattern checked",
			slog.String("region", c.Region.String()),
			slog.Int("index", c.Index),
			slog.String("state", c.State.String()),
			slog.Int("matches", c.Matches),
		)
	}()

	re, err := v.load(j.pattern)
	if err != nil {
		c.State, c.Err = Failed, err
		return
	}

	c.State = CountingMatches
	matches := re.FindAllIndex(j.target, 2)
	c.Matches = len(matches)
	if err := countError(len(matches)); err != nil {
		c.State, c.Err = Failed, err
		return
	}
	c.Start, c.End = matches[0][0], matches[0][1]
	if !j.pattern.HasCapture {
		c.State = Matched
		return
	}

	c.State = CaptureCheck
	if err := checkCapture(j.target[c.Start:c.End], j.pattern.Capture); err != nil {
		c.State, c.Err = Failed, err
		return
	}
	c.Capture = j.pattern.Capture
	c.State = Matched
}

// load deserializes the automata of p, copying buffers that do not start
// on the profile's alignment boundary.
func (v *Verifier) load(p *CompiledPattern) (*automaton.Regex, error) {
	align := v.cfg.Profile.Alignment
	fwd, rev := p.Forward, p.Backward
	if !automaton.IsAligned(fwd, align) {
		fwd = automaton.AlignedCopy(fwd, align)
	}
	if !automaton.IsAligned(rev, align) {
		rev = automaton.AlignedCopy(rev, align)
	}
	re, err := automaton.Load(fwd, rev, v.cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	return re, nil
}
