// Package mailproof proves facts about an email: that a DKIM signature of a
// claimed domain is valid, and optionally that regions of the signed
// content match pre-agreed patterns, disclosing only the declared captures.
//
// # DKIM only
//
//	v := &mailproof.Verifier{}
//	res, err := v.Verify(ctx, &mailproof.Request{
//	    FromDomain: "example.com",
//	    RawEmail:   raw,
//	    PublicKey:  &dkim.PublicKey{Type: dkim.KeyTypeRSA, Data: der},
//	})
//	if err != nil {
//	    // invalid request or canceled context
//	}
//	if !res.Output.Verified {
//	    log.Printf("not verified: %s: %v", res.Kind(), res.Err)
//	}
//
// When the request carries no key, Verifier.Keys resolves it, for example
// from DNS:
//
//	v := &mailproof.Verifier{
//	    Keys: &dkim.DNSKeyResolver{Resolver: dns.NewResolver(dns.ResolverConfig{})},
//	}
//
// # Patterns
//
// Patterns are compiled ahead of time against the exact bytes the verifier
// will scan, which Targets returns:
//
//	targets, err := v.Targets(ctx, req)
//	set, err := (&pattern.Compiler{}).CompileSet(pattern.SpecSet{
//	    Body: []pattern.Spec{pattern.Capture("Amount: ", `\$[0-9,.]+`, "")},
//	}, targets)
//	req.Patterns = set
//	res, err := v.Verify(ctx, req)
//	// res.Output.MatchedLiterals == []string{"$1,234.56"}
//
// Every pattern must match its region exactly once. Any failure leaves
// Verified false and MatchedLiterals nil.
package mailproof

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/synqronlabs/mailproof/automaton"
	"github.com/synqronlabs/mailproof/cache"
	"github.com/synqronlabs/mailproof/dkim"
	"github.com/synqronlabs/mailproof/mime"
	"github.com/synqronlabs/mailproof/pattern"
)

// Verifier runs verifications. Its fields must not change after the first
// call to Verify; a Verifier is then safe for concurrent use.
type Verifier struct {
	// Keys resolves keys for requests without a PublicKey.
	Keys dkim.KeyResolver

	// Patterns configures pattern evaluation.
	Patterns pattern.VerifierConfig

	// Cache, when set, stores verified outputs of requests that carry
	// their key.
	Cache *cache.Cache

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now enables x= expiry checks. Nil leaves them off, so the same inputs
	// always give the same output.
	Now func() time.Time

	// MinRSAKeyBits rejects smaller rsa keys when positive.
	MinRSAKeyBits int

	once    sync.Once
	checker *pattern.Verifier
}

func (v *Verifier) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

func (v *Verifier) patterns() *pattern.Verifier {
	v.once.Do(func() {
		cfg := v.Patterns
		if cfg.Logger == nil {
			cfg.Logger = v.logger()
		}
		v.checker = pattern.NewVerifier(cfg)
	})
	return v.checker
}

// Verify verifies req. A failed verification is not an error: it returns a
// Result with Output.Verified false and Err set. The error is non-nil only
// for an invalid request or when ctx ends, and the Result is nil then.
func (v *Verifier) Verify(ctx context.Context, req *Request) (*Result, error) {
	if err := v.check(req); err != nil {
		return nil, err
	}

	start := time.Now()
	flow := req.flow()
	res := &Result{ID: ulid.Make(), Output: newOutput(req)}
	log := v.logger().With(slog.String("attempt_id", res.ID.String()), slog.String("flow", flow))

	key, cacheable := v.cacheKey(req)
	if cacheable {
		if out, ok := v.lookup(key, log); ok {
			res.Output, res.Cached = out, true
			metricVerify.WithLabelValues("verified").Inc()
			log.Info("verification served from cache")
			return res, nil
		}
	}

	err := v.verify(ctx, req, res, log)
	if ctx.Err() != nil {
		metricVerify.WithLabelValues(KindCanceled.String()).Inc()
		log.Warn("verification canceled", slog.Any("error", ctx.Err()))
		return nil, ctx.Err()
	}
	metricVerifyDuration.WithLabelValues(flow).Observe(time.Since(start).Seconds())

	if err != nil {
		res.Err = err
		res.Output.MatchedLiterals = nil
		metricVerify.WithLabelValues(KindOf(err).String()).Inc()
		log.Warn("verification failed",
			slog.String("domain", req.FromDomain),
			slog.String("kind", KindOf(err).String()),
			slog.Any("error", err),
		)
		return res, nil
	}

	res.Output.Verified = true
	metricVerify.WithLabelValues("verified").Inc()
	log.Info("verification succeeded",
		slog.String("domain", req.FromDomain),
		slog.String("selector", res.Signature.Selector),
		slog.Int("literals", len(res.Output.MatchedLiterals)),
	)
	if cacheable {
		v.store(key, res.Output, log)
	}
	return res, nil
}

func (v *Verifier) check(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.validate(); err != nil {
		return err
	}
	if req.PublicKey == nil && v.Keys == nil {
		return fmt.Errorf("%w: no public key and no key resolver", ErrInvalidRequest)
	}
	return nil
}

func (v *Verifier) verify(ctx context.Context, req *Request, res *Result, log *slog.Logger) error {
	msg, err := dkim.Canonicalize(req.RawEmail)
	if err != nil {
		return err
	}
	c, form, err := v.authenticate(ctx, req, msg, res, log)
	if err != nil {
		return err
	}
	if req.Patterns.Len() == 0 {
		return nil
	}

	report, err := v.patterns().Verify(ctx, req.Patterns, targets(msg, c, form, req.AttachmentText))
	res.Patterns = report
	observePatterns(report)
	if err != nil {
		return err
	}
	res.Output.MatchedLiterals = report.Literals
	return nil
}

// authenticate tries the signatures of the claimed domain in message order
// and returns the first that verifies with its canonical form.
func (v *Verifier) authenticate(ctx context.Context, req *Request, msg *dkim.Message, res *Result, log *slog.Logger) (*dkim.Candidate, *dkim.CanonicalForm, error) {
	var lastErr, parseErr error
	for _, c := range msg.Candidates() {
		if c.Err != nil {
			res.Attempts = append(res.Attempts, Attempt{Index: c.Index, Result: dkim.Result{Status: dkim.StatusOf(c.Err), Err: c.Err}})
			if parseErr == nil {
				parseErr = c.Err
			}
			log.Debug("signature header rejected", slog.Int("index", c.Index), slog.Any("error", c.Err))
			continue
		}
		sig := c.Signature
		if !strings.EqualFold(sig.Domain, req.FromDomain) {
			continue
		}

		form, key, err := v.checkCandidate(ctx, req, msg, c)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		if len(key.Data) > 0 {
			res.Output.KeyHash = KeyHash(key.Data)
		}
		res.Attempts = append(res.Attempts, Attempt{
			Index:  c.Index,
			Result: dkim.Result{Status: dkim.StatusOf(err), Signature: sig, Err: err},
		})
		log.Debug("signature checked",
			slog.Int("index", c.Index),
			slog.String("selector", sig.Selector),
			slog.String("status", string(dkim.StatusOf(err))),
			slog.Any("error", err),
		)
		if err != nil {
			lastErr = err
			continue
		}
		res.Signature = sig
		return c, form, nil
	}

	switch {
	case lastErr != nil:
		return nil, nil, lastErr
	case parseErr != nil:
		return nil, nil, fmt.Errorf("%w: %w", ErrDomainNotSigned, parseErr)
	}
	return nil, nil, ErrDomainNotSigned
}

func (v *Verifier) checkCandidate(ctx context.Context, req *Request, msg *dkim.Message, c *dkim.Candidate) (*dkim.CanonicalForm, dkim.PublicKey, error) {
	sig := c.Signature
	key, err := v.key(ctx, req, sig)
	if err != nil {
		return nil, key, err
	}
	if v.MinRSAKeyBits > 0 && key.Type == dkim.KeyTypeRSA {
		bits, err := dkim.KeyBits(key)
		if err != nil {
			return nil, key, err
		}
		if bits < v.MinRSAKeyBits {
			return nil, key, fmt.Errorf("%w: %d bits, minimum %d", dkim.ErrWeakKey, bits, v.MinRSAKeyBits)
		}
	}
	if v.Now != nil {
		if err := dkim.CheckExpiry(sig, v.Now()); err != nil {
			return nil, key, err
		}
	}

	form, err := msg.Form(c)
	if err != nil {
		return nil, key, err
	}
	ok, err := dkim.VerifySignature(key, sig, form)
	if err != nil {
		return nil, key, err
	}
	if !ok {
		return nil, key, ErrSignatureMismatch
	}
	if !dkim.VerifyBodyHash(sig.BodyHash, form.Body()) {
		return nil, key, ErrBodyHashMismatch
	}
	return form, key, nil
}

func (v *Verifier) key(ctx context.Context, req *Request, sig *dkim.Signature) (dkim.PublicKey, error) {
	if req.PublicKey != nil {
		return *req.PublicKey, nil
	}
	return v.Keys.ResolveKey(ctx, sig.Selector, sig.Domain)
}

// cacheKey digests every input the output depends on. Requests that
// resolve their key and verifiers with a clock depend on more than their
// inputs and are not cached.
func (v *Verifier) cacheKey(req *Request) (cache.Key, bool) {
	if v.Cache == nil || req.PublicKey == nil || v.Now != nil {
		return cache.Key{}, false
	}
	profile := v.Patterns.Profile
	if profile == (automaton.Profile{}) {
		profile = automaton.DefaultProfile
	}
	b := cache.NewKeyBuilder("mailproof/verify/v1").
		AddString(req.FromDomain).
		Add(req.RawEmail).
		AddString(string(req.PublicKey.Type)).
		Add(req.PublicKey.Data).
		AddString(strconv.Itoa(v.MinRSAKeyBits)).
		AddString(profile.String()).
		Add(req.AttachmentText).
		AddString(strconv.Itoa(len(req.ExternalInputs)))
	for _, in := range req.ExternalInputs {
		b.AddString(in.Name).AddString(in.Value)
	}
	var set []byte
	if req.Patterns.Len() > 0 {
		var err error
		if set, err = req.Patterns.MarshalMsg(nil); err != nil {
			return cache.Key{}, false
		}
	}
	return b.Add(set).Key(), true
}

func (v *Verifier) lookup(key cache.Key, log *slog.Logger) (Output, bool) {
	raw, ok := v.Cache.Get(key)
	if !ok {
		metricCacheLookups.WithLabelValues("miss").Inc()
		return Output{}, false
	}
	var out Output
	if _, err := out.UnmarshalMsg(raw); err != nil {
		metricCacheLookups.WithLabelValues("miss").Inc()
		log.Warn("discarding unreadable cache entry", slog.String("key", key.String()), slog.Any("error", err))
		return Output{}, false
	}
	metricCacheLookups.WithLabelValues("hit").Inc()
	return out, true
}

func (v *Verifier) store(key cache.Key, out Output, log *slog.Logger) {
	raw, err := out.MarshalMsg(nil)
	if err == nil {
		err = v.Cache.Put(key, raw)
	}
	if err != nil {
		log.Warn("caching output failed", slog.String("key", key.String()), slog.Any("error", err))
	}
}

// targets returns the buffers patterns of the verified candidate c scan:
// its canonical header, the cleaned preferred body part and the attachment
// text. The body part is selected with the MIME fields c signs only; when
// c does not sign Content-Type the body is scanned as a single text/plain
// part.
func targets(msg *dkim.Message, c *dkim.Candidate, form *dkim.CanonicalForm, attachment []byte) pattern.Targets {
	headers := mime.HeaderFunc(func(name string) string {
		v, _ := msg.SignedHeader(c, name)
		return v
	})
	body, _ := mime.CleanSoftBreaks(mime.SelectBody(headers, form.Body()))
	return pattern.Targets{
		Header:     form.Header(),
		Body:       body,
		Attachment: attachment,
	}
}

// Targets authenticates req and returns the buffers its patterns are
// matched against. Pattern sets compiled against them verify against the
// same request. req.Patterns is ignored.
func (v *Verifier) Targets(ctx context.Context, req *Request) (pattern.Targets, error) {
	if err := v.check(req); err != nil {
		return pattern.Targets{}, err
	}
	res := &Result{Output: newOutput(req)}
	msg, err := dkim.Canonicalize(req.RawEmail)
	if err != nil {
		return pattern.Targets{}, err
	}
	c, form, err := v.authenticate(ctx, req, msg, res, v.logger())
	if err != nil {
		return pattern.Targets{}, err
	}
	return targets(msg, c, form, req.AttachmentText), nil
}
