package automaton

import (
	"errors"
	"math/rand/v2"
	"regexp"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

var findCases = []struct {
	pattern string
	input   string
}{
	{`a*`, "baaa"},
	{`abcd|c`, "abcx"},
	{`abcd|c`, "abcd"},
	{`a+?`, "aaa"},
	{`(a|ab)(c|bcd)(d*)`, "abcd"},
	{`^abc`, "abcabc"},
	{`abc$`, "abcabc"},
	{`^$`, ""},
	{`$`, "ab"},
	{``, "abc"},
	{`x*`, "héllo"},
	{`a|`, "bab"},
	{`(a*)+`, "aab"},
	{`(a*)*`, "b"},
	{`\$[0-9,.]+`, "Amount: $1,234.56 and $7"},
	{`(?i)kelvin`, "KELVIN Kelvin kelvin"},
	{`[^a-z]+`, "abc DEF ghi"},
	{`\p{Greek}+`, "αβγ abc δ"},
	{`.`, "a\nb"},
	{`(?s).+`, "a\nb"},
	{`a{2,3}`, "aaaaaaa"},
	{`(?:foo|foobar)bar`, "foobarbar"},
	{`\A(?:a|b)*\z`, "abab"},
	{`\A(?:a|b)*\z`, "abcab"},
	{`[\x{10000}-\x{10FFFF}]`, "a😀b𝄞"},
	{`日本`, "日本語日本"},
	{`\d+`, "x12y345"},
	{`xyz`, "abc"},
	{`a\z|a`, "aba"},
	{`(?U)a+`, "aaa"},
	{`Subject: [^\r\n]*`, "from:a\r\nsubject:hi\r\nSubject: Hello there\r\n"},
	{`(|a)*`, "aa"},
	{`(|a)+`, "aa"},
	{`(a|)*?b`, "aab"},
	{`(?:\A|b)*(?:[ab]|[^a])(?:)?`, "bcéca"},
	{`(?:(?:)?(?:^|a))*`, "a"},
	{`(?:(?:\A){1,2}){1,2}(?:(?:a)*?)*`, "a"},
	{`(?:a*b*)*c`, "abbac"},
}

func TestFindAllIndexMatchesRegexp(t *testing.T) {
	for _, tt := range findCases {
		t.Run(tt.pattern, func(t *testing.T) {
			re, err := Compile(tt.pattern)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.pattern, err)
			}
			want := regexp.MustCompile(tt.pattern).FindAllIndex([]byte(tt.input), -1)
			got := re.FindAllIndex([]byte(tt.input), -1)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("FindAllIndex(%q) mismatch (-regexp +automaton):\n%s", tt.input, diff)
			}
			if got := re.Match([]byte(tt.input)); got != (want != nil) {
				t.Errorf("Match(%q) = %v", tt.input, got)
			}
		})
	}
}

// randomPattern builds a small pattern from atoms and operators that
// exercise alternation order, lazy repetition and empty-width loops.
func randomPattern(r *rand.Rand, depth int) string {
	atoms := []string{`a`, `b`, `[ab]`, `[^a]`, `é`, `.`, `(?:)`, `\A`, `^`, `$`}
	if depth == 0 || r.IntN(3) == 0 {
		return atoms[r.IntN(len(atoms))]
	}
	sub := randomPattern(r, depth-1)
	switch r.IntN(5) {
	case 0:
		return sub + randomPattern(r, depth-1)
	case 1:
		return `(?:` + sub + `|` + randomPattern(r, depth-1) + `)`
	default:
		ops := []string{`*`, `+`, `?`, `*?`, `+?`, `??`, `{1,2}`, `{0,2}?`}
		return `(?:` + sub + `)` + ops[r.IntN(len(ops))]
	}
}

func TestFindAllIndexMatchesRegexpGenerated(t *testing.T) {
	inputs := []string{"", "a", "b", "aa", "ab", "ba", "aab", "bcéca", "a\nb"}
	r := rand.New(rand.NewPCG(1, 2))
	for range 2000 {
		pattern := randomPattern(r, 4)
		re, err := Compile(pattern)
		if errors.Is(err, ErrTooManyStates) {
			continue
		}
		if err != nil {
			t.Fatalf("Compile(%q) error = %v", pattern, err)
		}
		std := regexp.MustCompile(pattern)
		for _, in := range inputs {
			want := std.FindAllIndex([]byte(in), -1)
			got := re.FindAllIndex([]byte(in), -1)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%s on %q mismatch (-regexp +automaton):\n%s", pattern, in, diff)
			}
		}
	}
}

func TestNullable(t *testing.T) {
	for pattern, want := range map[string]bool{
		`a`:         false,
		`a*`:        true,
		`(?:)`:      true,
		`\A`:        true,
		`a|`:        true,
		`ab?`:       false,
		`(?:a?)+`:   true,
		`[ab]{1,2}`: false,
	} {
		re, err := parse(pattern)
		if err != nil {
			t.Fatal(err)
		}
		if got := nullable(re); got != want {
			t.Errorf("nullable(%s) = %v, want %v", pattern, got, want)
		}
	}
}

func TestFindAllIndexLimit(t *testing.T) {
	re, err := Compile(`[0-9]`)
	if err != nil {
		t.Fatal(err)
	}
	if got := re.Count([]byte("1 2 3 4"), 2); got != 2 {
		t.Errorf("Count(limit 2) = %d, want 2", got)
	}
	if got := re.Count([]byte("1 2 3 4"), -1); got != 4 {
		t.Errorf("Count(all) = %d, want 4", got)
	}
	if got := re.FindAllIndex([]byte("1 2"), 0); got != nil {
		t.Errorf("FindAllIndex(n=0) = %v, want nil", got)
	}
}

func TestFindFrom(t *testing.T) {
	re, err := Compile(`^ab|b`)
	if err != nil {
		t.Fatal(err)
	}
	h := []byte("abab")
	tests := []struct {
		at         int
		start, end int
		ok         bool
	}{
		{0, 0, 2, true},
		{1, 1, 2, true},
		{2, 3, 4, true},
		{4, -1, -1, false},
		{5, -1, -1, false},
		{-1, -1, -1, false},
	}
	for _, tt := range tests {
		start, end, ok := re.Find(h, tt.at)
		if start != tt.start || end != tt.end || ok != tt.ok {
			t.Errorf("Find(at=%d) = %d, %d, %v; want %d, %d, %v", tt.at, start, end, ok, tt.start, tt.end, tt.ok)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		pattern string
		want    error
	}{
		{`a(`, ErrSyntax},
		{`(?m)^a`, ErrUnsupported},
		{`(?m)a$`, ErrUnsupported},
		{`\bfoo`, ErrUnsupported},
		{`foo\B`, ErrUnsupported},
	}
	for _, tt := range tests {
		if _, err := Compile(tt.pattern); !errors.Is(err, tt.want) {
			t.Errorf("Compile(%q) error = %v, want %v", tt.pattern, err, tt.want)
		}
	}

	_, err := Config{MaxStates: 4}.Compile(`(a|b)*a(a|b){5}`)
	if !errors.Is(err, ErrTooManyStates) {
		t.Errorf("state limit: error = %v, want %v", err, ErrTooManyStates)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	profiles := []Profile{
		DefaultProfile,
		{Order: BigEndian, Alignment: 4},
		{Order: LittleEndian, Alignment: 8},
		NativeProfile(),
	}
	for _, p := range profiles {
		t.Run(p.String(), func(t *testing.T) {
			for _, tt := range findCases {
				re, err := Compile(tt.pattern)
				if err != nil {
					t.Fatal(err)
				}
				fwd, err := re.Forward().Serialize(p)
				if err != nil {
					t.Fatal(err)
				}
				rev, err := re.Reverse().Serialize(p)
				if err != nil {
					t.Fatal(err)
				}
				if !IsAligned(fwd, p.Alignment) || !IsAligned(rev, p.Alignment) {
					t.Fatalf("Serialize returned unaligned buffers")
				}
				loaded, err := Load(fwd, rev, p)
				if err != nil {
					t.Fatalf("Load(%q) error = %v", tt.pattern, err)
				}
				want := re.FindAllIndex([]byte(tt.input), -1)
				got := loaded.FindAllIndex([]byte(tt.input), -1)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("%q on %q mismatch after round trip:\n%s", tt.pattern, tt.input, diff)
				}
			}
		})
	}
}

func TestSerializeDeterministic(t *testing.T) {
	a, _ := Compile(`Amount: \$[0-9,.]+`)
	b, _ := Compile(`Amount: \$[0-9,.]+`)
	ab, _ := a.Forward().Serialize(DefaultProfile)
	bb, _ := b.Forward().Serialize(DefaultProfile)
	if string(ab) != string(bb) {
		t.Error("compiling the same pattern twice produced different forward DFAs")
	}
}

func TestDeserializeErrors(t *testing.T) {
	re, err := Compile(`ab+c`)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := re.Forward().Serialize(DefaultProfile)
	if err != nil {
		t.Fatal(err)
	}
	corrupt := func(f func(b []byte) []byte) []byte {
		b := AlignedCopy(buf, 4)
		return AlignedCopy(f(b), 4)
	}

	tests := []struct {
		name string
		buf  []byte
		p    Profile
		want error
	}{
		{"wrong byte order", buf, Profile{Order: BigEndian, Alignment: 4}, ErrProfile},
		{"bad profile", buf, Profile{Alignment: 3}, ErrProfile},
		{"truncated", corrupt(func(b []byte) []byte { return b[:len(b)-1] }), DefaultProfile, ErrFormat},
		{"short", corrupt(func(b []byte) []byte { return b[:16] }), DefaultProfile, ErrFormat},
		{"bad magic", corrupt(func(b []byte) []byte { b[0] = 'X'; return b }), DefaultProfile, ErrFormat},
		{"bad version", corrupt(func(b []byte) []byte { b[8] = 9; return b }), DefaultProfile, ErrFormat},
		{"start out of range", corrupt(func(b []byte) []byte { b[27] = 0xFF; return b }), DefaultProfile, ErrFormat},
		{"transition out of range", corrupt(func(b []byte) []byte {
			off := tableOffset + 4*re.Forward().NumClasses()
			b[off+3] = 0xFF
			return b
		}), DefaultProfile, ErrFormat},
		{"live dead state", corrupt(func(b []byte) []byte { b[tableOffset] = 1; return b }), DefaultProfile, ErrFormat},
		{"bad flags", corrupt(func(b []byte) []byte { b[len(b)-1] = 0x80; return b }), DefaultProfile, ErrFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Deserialize(tt.buf, tt.p); !errors.Is(err, tt.want) {
				t.Errorf("Deserialize() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeserializeAlignment(t *testing.T) {
	re, err := Compile(`a+b`)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := re.Forward().Serialize(DefaultProfile)
	if err != nil {
		t.Fatal(err)
	}
	shifted := AlignedCopy(append([]byte{0}, buf...), 4)[1:]
	if IsAligned(shifted, 4) {
		t.Fatal("test buffer is unexpectedly aligned")
	}

	if _, err := Deserialize(shifted, DefaultProfile); !errors.Is(err, ErrUnaligned) {
		t.Fatalf("Deserialize(unaligned) error = %v, want %v", err, ErrUnaligned)
	}

	relaxed := Profile{Order: LittleEndian, Alignment: 1}
	d, err := Deserialize(shifted, relaxed)
	if err != nil {
		t.Fatalf("Deserialize without alignment requirement: %v", err)
	}
	if got := d.searchForward([]byte("xaab"), 0); got != 4 {
		t.Errorf("searchForward = %d, want 4", got)
	}

	d, err = Deserialize(AlignedCopy(shifted, 4), DefaultProfile)
	if err != nil {
		t.Fatalf("Deserialize(AlignedCopy) error = %v", err)
	}
	if d.NumStates() != re.Forward().NumStates() || d.NumClasses() != re.Forward().NumClasses() {
		t.Errorf("loaded DFA has %d states/%d classes, want %d/%d",
			d.NumStates(), d.NumClasses(), re.Forward().NumStates(), re.Forward().NumClasses())
	}
}

func TestNewRejectsSwappedDFAs(t *testing.T) {
	re, err := Compile(`abc`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(re.Reverse(), re.Forward()); !errors.Is(err, ErrFormat) {
		t.Errorf("New(reverse, forward) error = %v, want %v", err, ErrFormat)
	}
	if _, err := New(re.Forward(), nil); !errors.Is(err, ErrFormat) {
		t.Errorf("New(forward, nil) error = %v, want %v", err, ErrFormat)
	}
	if re.Forward().Kind() != LeftmostFirst || re.Reverse().Kind() != All {
		t.Errorf("kinds = %s, %s", re.Forward().Kind(), re.Reverse().Kind())
	}
}

func TestUTF8Sequences(t *testing.T) {
	matches := func(seq []byteRange, enc []byte) bool {
		if len(seq) != len(enc) {
			return false
		}
		for i, r := range seq {
			if enc[i] < r.lo || enc[i] > r.hi {
				return false
			}
		}
		return true
	}

	ranges := [][2]rune{
		{0, unicode.MaxRune},
		{0x41, 0x3000},
		{0x80, 0x7FF},
		{0xD000, 0xE100},
		{0xFFFF, 0x10000},
	}
	for _, rg := range ranges {
		seqs := utf8Sequences(rg[0], rg[1])
		var buf [utf8.UTFMax]byte
		for r := rune(0); r <= unicode.MaxRune; r++ {
			if r >= 0xD800 && r <= 0xDFFF {
				continue
			}
			enc := buf[:utf8.EncodeRune(buf[:], r)]
			n := 0
			for _, seq := range seqs {
				if matches(seq, enc) {
					n++
				}
			}
			want := 0
			if r >= rg[0] && r <= rg[1] {
				want = 1
			}
			if n != want {
				t.Fatalf("range %U-%U: rune %U matched %d sequences, want %d", rg[0], rg[1], r, n, want)
			}
		}
	}
}

func TestAlignedCopy(t *testing.T) {
	for _, align := range []int{0, 1, 2, 4, 8, 16} {
		src := []byte("0123456789")
		got := AlignedCopy(src, align)
		if string(got) != string(src) {
			t.Errorf("align %d: copy = %q", align, got)
		}
		if !IsAligned(got, align) {
			t.Errorf("align %d: copy is not aligned", align)
		}
	}
}
