package admission

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

type signature struct {
	name    string
	pattern *regexp.Regexp
}

// shieldSignatures are matched against the decoded path, query string and
// a few client controlled headers.
var shieldSignatures = []signature{
	{"path-traversal", regexp.MustCompile(`\.\.[/\\]`)},
	{"sensitive-file", regexp.MustCompile(`(?i)(/etc/(passwd|shadow)|/proc/self/|(^|/)\.env\b|(^|/)\.git/)`)},
	{"sql-injection", regexp.MustCompile(`(?i)(\bunion\b\s+(all\s+)?\bselect\b|'\s*or\s+'?\d+'?\s*=\s*'?\d+|\bor\s+1\s*=\s*1\b|;\s*drop\s+table\b|\bsleep\s*\(\s*\d+\s*\)|\binformation_schema\b)`)},
	{"script-injection", regexp.MustCompile(`(?i)(<\s*script\b|javascript:|\bon(error|load)\s*=)`)},
	{"shell-injection", regexp.MustCompile("(;|\\|\\||&&|\\$\\(|`)\\s*(cat|wget|curl|sh|bash|nc|rm|chmod)\\b")},
}

var shieldHeaders = []string{"Referer", "X-Forwarded-Host"}

type shieldRule struct {
	mode Mode
}

func (r shieldRule) name() string { return "shield" }

func (r shieldRule) evaluate(req Request) RuleResult {
	res := RuleResult{Rule: r.name(), Mode: r.mode, Conclusion: ConclusionAllow, Reason: ReasonAllowed}

	candidates := []string{decode(req.Path), decode(req.Query), req.UserAgent}
	for _, h := range shieldHeaders {
		if v := req.Header.Get(h); v != "" {
			candidates = append(candidates, decode(v))
		}
	}
	candidates = append(candidates, cookieValues(req.Header)...)

	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, sig := range shieldSignatures {
			if sig.pattern.MatchString(c) {
				res.Conclusion = ConclusionDeny
				res.Reason = ReasonShielded
				res.Signature = sig.name
				return res
			}
		}
	}
	return res
}

// decode undoes up to two rounds of percent-encoding so double-encoded
// payloads are inspected too.
func decode(s string) string {
	for i := 0; i < 2 && strings.Contains(s, "%"); i++ {
		next, err := url.QueryUnescape(s)
		if err != nil {
			break
		}
		s = next
	}
	return s
}

// cookieValues returns the decoded value of every cookie pair. The ";"
// between pairs is a separator, not a shell operator, so the header is never
// scanned as a whole.
func cookieValues(h http.Header) []string {
	var out []string
	for _, line := range h.Values("Cookie") {
		for _, pair := range strings.Split(line, ";") {
			_, value, ok := strings.Cut(pair, "=")
			if !ok {
				value = pair
			}
			if value = strings.TrimSpace(value); value != "" {
				out = append(out, decode(value))
			}
		}
	}
	return out
}
