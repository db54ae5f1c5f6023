package admission

import (
	"net/http"
	"net/netip"
	"time"
)

// Reason classifies an admission decision.
type Reason string

const (
	ReasonAllowed     Reason = "ALLOWED"
	ReasonRateLimited Reason = "RATE_LIMITED"
	ReasonBot         Reason = "BOT"
	ReasonSpoofedBot  Reason = "SPOOFED_BOT"
	ReasonHostingIP   Reason = "HOSTING_IP"
	ReasonShielded    Reason = "SHIELDED"
)

// Mode controls whether a rule may deny. DRY_RUN rules are evaluated and
// reported but never deny.
type Mode string

const (
	ModeLive   Mode = "LIVE"
	ModeDryRun Mode = "DRY_RUN"
)

// Conclusion is a single rule's verdict.
type Conclusion string

const (
	ConclusionAllow Conclusion = "ALLOW"
	ConclusionDeny  Conclusion = "DENY"
	ConclusionError Conclusion = "ERROR"
)

// Request is the fingerprint of an inbound HTTP request.
type Request struct {
	IP        netip.Addr
	UserAgent string
	Method    string
	Path      string
	Query     string
	Header    http.Header
}

// RuleResult records how one rule judged the request.
type RuleResult struct {
	Rule       string
	Mode       Mode
	Conclusion Conclusion
	Reason     Reason
	// Bot is the catalog entry the user agent matched, if any.
	Bot string
	// Spoofed is set when a request claims an allowed bot identity that
	// fails verification.
	Spoofed bool
	// Signature names the shield pattern that matched.
	Signature string
	Err       error
}

// Decision is computed once per request before any expensive work runs.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Remaining is the quota left after this request, or -1 when the token
	// bucket was not consulted.
	Remaining  int
	RetryAfter time.Duration
	Results    []RuleResult
}

// Denied reports whether the request must be rejected.
func (d Decision) Denied() bool { return !d.Allowed }

func allowed() Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed, Remaining: -1}
}
