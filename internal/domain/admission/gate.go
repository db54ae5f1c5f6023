package admission

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"narrator-server/internal/domain/admission/store"
	platformerrors "narrator-server/internal/platform/errors"
	"narrator-server/internal/platform/logging"
	"narrator-server/internal/platform/observability"
)

// Options configures a Gate.
type Options struct {
	Enabled       bool
	FailOpen      bool
	DenyHostingIP bool
	DenySpoofed   bool

	ShieldMode Mode
	BotMode    Mode
	BucketMode Mode

	// Allow lists bot names or "CATEGORY:<name>" entries that pass the bot rule.
	Allow         []string
	VerifyTimeout time.Duration

	// Characteristics select the request attributes forming the limiter key.
	Characteristics []string
}

// Gate screens requests before any inference work is started.
type Gate struct {
	opts     Options
	shield   shieldRule
	bot      botRule
	store    store.Store
	hosting  *HostingClassifier
	logger   *logging.Logger
	now      func() time.Time
	errNoise *rate.Sometimes
}

// NewGate wires a gate around a token bucket store. hosting and verifier
// may be nil.
func NewGate(opts Options, st store.Store, hosting *HostingClassifier, verifier Verifier, logger *logging.Logger) (*Gate, error) {
	if st == nil {
		return nil, platformerrors.New(platformerrors.KindAdmission, "admission.new", "token bucket store required")
	}
	for _, m := range []*Mode{&opts.ShieldMode, &opts.BotMode, &opts.BucketMode} {
		switch *m {
		case "":
			*m = ModeLive
		case ModeLive, ModeDryRun:
		default:
			return nil, platformerrors.New(platformerrors.KindAdmission, "admission.new", fmt.Sprintf("unknown rule mode %q", *m))
		}
	}
	if len(opts.Characteristics) == 0 {
		opts.Characteristics = []string{"ip.src"}
	}
	return &Gate{
		opts:   opts,
		shield: shieldRule{mode: opts.ShieldMode},
		bot: botRule{
			mode:          opts.BotMode,
			allow:         newAllowList(opts.Allow),
			verifier:      verifier,
			verifyTimeout: opts.VerifyTimeout,
		},
		store:    st,
		hosting:  hosting,
		logger:   logger,
		now:      time.Now,
		errNoise: &rate.Sometimes{Interval: 10 * time.Second},
	}, nil
}

// Close releases the token bucket store.
func (g *Gate) Close(ctx context.Context) error {
	return g.store.Close(ctx)
}

// Stats reports token bucket store statistics.
func (g *Gate) Stats(ctx context.Context) (map[string]any, error) {
	return g.store.Stats(ctx)
}

// Protect evaluates req with the given token cost. Rules run in order
// shield, bot, token bucket; the bucket is only charged when no live rule
// denied first. An error is returned only when the store fails and the gate
// is configured to fail closed.
func (g *Gate) Protect(ctx context.Context, req Request, requested int) (Decision, error) {
	if !g.opts.Enabled {
		return allowed(), nil
	}
	ctx, end := observability.StartSpan(ctx, "admission", "protect")
	defer end(nil)

	d := allowed()

	if res := g.shield.evaluate(req); g.apply(&d, res) {
		return g.finish(ctx, req, d), nil
	}
	if res := g.bot.evaluate(ctx, req); g.apply(&d, res) {
		return g.finish(ctx, req, d), nil
	}

	key := g.Key(req)
	res := RuleResult{Rule: "token_bucket", Mode: g.opts.BucketMode, Conclusion: ConclusionAllow, Reason: ReasonAllowed}
	taken, err := g.store.Take(ctx, key, requested, g.now())
	switch {
	case err != nil:
		res.Conclusion = ConclusionError
		res.Err = err
		d.Results = append(d.Results, res)
		if !g.opts.FailOpen {
			return d, platformerrors.Wrap(platformerrors.KindStorage, "admission.protect", "token bucket unavailable", err)
		}
		g.errNoise.Do(func() {
			g.logger.ErrorTag("Admission", "token bucket store failed, admitting request: %v", err)
		})
	default:
		d.Remaining = taken.Remaining
		if !taken.Allowed {
			res.Conclusion = ConclusionDeny
			res.Reason = ReasonRateLimited
			if res.Mode == ModeLive {
				d.RetryAfter = taken.RetryAfter
			}
		}
		if g.apply(&d, res) {
			return g.finish(ctx, req, d), nil
		}
	}

	if g.opts.DenyHostingIP && g.hosting.IsHosting(req.IP) {
		d.Allowed = false
		d.Reason = ReasonHostingIP
		return g.finish(ctx, req, d), nil
	}
	if g.opts.DenySpoofed {
		for _, r := range d.Results {
			if r.Spoofed {
				d.Allowed = false
				d.Reason = ReasonSpoofedBot
				break
			}
		}
	}
	return g.finish(ctx, req, d), nil
}

// apply records res and reports whether it terminates evaluation.
func (g *Gate) apply(d *Decision, res RuleResult) bool {
	d.Results = append(d.Results, res)
	if res.Conclusion != ConclusionDeny {
		return false
	}
	if res.Mode == ModeDryRun {
		g.logger.InfoTag("Admission", "dry run %s rule would deny: %s", res.Rule, res.Reason)
		return false
	}
	d.Allowed = false
	d.Reason = res.Reason
	return true
}

func (g *Gate) finish(ctx context.Context, req Request, d Decision) Decision {
	observability.RecordMetric(ctx, "admission.decisions", 1, map[string]string{
		"reason": string(d.Reason),
	})
	if d.Denied() {
		g.logger.WarnTag("Admission", "denied", map[string]any{
			"reason": string(d.Reason),
			"ip":     req.IP.String(),
			"path":   req.Path,
			"ua":     req.UserAgent,
		})
	}
	return d
}

// Key derives the limiter key from the configured characteristics.
// Supported: ip.src, http.user_agent, http.method, http.path and
// header:<Name>.
func (g *Gate) Key(req Request) string {
	parts := make([]string, 0, len(g.opts.Characteristics))
	chars := append([]string(nil), g.opts.Characteristics...)
	sort.Strings(chars)
	for _, c := range chars {
		var v string
		switch {
		case c == "ip.src":
			if req.IP.IsValid() {
				v = req.IP.Unmap().String()
			}
		case c == "http.user_agent":
			v = req.UserAgent
		case c == "http.method":
			v = req.Method
		case c == "http.path":
			v = req.Path
		case strings.HasPrefix(c, "header:"):
			v = req.Header.Get(strings.TrimPrefix(c, "header:"))
		}
		if v == "" {
			v = "unknown"
		}
		parts = append(parts, c+"="+v)
	}
	return strings.Join(parts, "|")
}

// RequestFromHTTP fingerprints r. clientIP is the resolved client address,
// which may differ from RemoteAddr behind trusted proxies.
func RequestFromHTTP(r *http.Request, clientIP string) Request {
	ip, _ := parseAddr(clientIP)
	return Request{
		IP:        ip,
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
		Header:    r.Header,
	}
}
