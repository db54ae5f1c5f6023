package admission

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/domain/admission/store"
	platformerrors "narrator-server/internal/platform/errors"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.New(store.Config{Bucket: store.Bucket{Capacity: 5, RefillRate: 5, Interval: time.Minute}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func defaultOptions() Options {
	return Options{
		Enabled:       true,
		FailOpen:      true,
		DenyHostingIP: true,
		DenySpoofed:   true,
		Allow:         []string{"CATEGORY:SEARCH_ENGINE"},
	}
}

func newGate(t *testing.T, opts Options, st store.Store, hosting *HostingClassifier, v Verifier) *Gate {
	t.Helper()
	if st == nil {
		st = newStore(t)
	}
	g, err := NewGate(opts, st, hosting, v, nil)
	require.NoError(t, err)
	return g
}

func browserRequest(ip string) Request {
	return Request{
		IP:        netip.MustParseAddr(ip),
		UserAgent: browserUA,
		Method:    http.MethodPost,
		Path:      "/api/describe-image",
		Header:    http.Header{},
	}
}

func TestGateSixthRequestIsRateLimited(t *testing.T) {
	g := newGate(t, defaultOptions(), nil, nil, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := g.Protect(ctx, browserRequest("203.0.113.10"), 1)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 5-i, d.Remaining)
	}

	d, err := g.Protect(ctx, browserRequest("203.0.113.10"), 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Positive(t, d.RetryAfter)

	// Another client is unaffected.
	d, err = g.Protect(ctx, browserRequest("203.0.113.11"), 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGateDeniedRequestsDoNotConsumeQuota(t *testing.T) {
	g := newGate(t, defaultOptions(), nil, nil, nil)
	ctx := context.Background()

	bot := browserRequest("203.0.113.20")
	bot.UserAgent = "curl/8.5.0"
	for i := 0; i < 10; i++ {
		d, err := g.Protect(ctx, bot, 1)
		require.NoError(t, err)
		assert.Equal(t, ReasonBot, d.Reason)
		assert.Equal(t, -1, d.Remaining)
	}

	d, err := g.Protect(ctx, browserRequest("203.0.113.20"), 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestGateBotRule(t *testing.T) {
	tests := []struct {
		name   string
		ua     string
		reason Reason
	}{
		{"browser", browserUA, ReasonAllowed},
		{"empty agent", "", ReasonBot},
		{"http library", "python-requests/2.31", ReasonBot},
		{"ai crawler", "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.1)", ReasonBot},
		{"unknown crawler", "FancyCrawler/0.1", ReasonBot},
		{"search engine without verification", "DuckDuckBot/1.1", ReasonAllowed},
		{"cubot phone browser", "Mozilla/5.0 (Linux; Android 10; CUBOT X30) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36", ReasonAllowed},
		{"generic bot word", "Mozilla/5.0 (compatible; bot; +http://example.com)", ReasonBot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(t, defaultOptions(), nil, nil, nil)
			req := browserRequest("192.0.2.1")
			req.UserAgent = tt.ua
			d, err := g.Protect(context.Background(), req, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.reason == ReasonAllowed, d.Allowed)
		})
	}
}

func TestGateShield(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Request)
	}{
		{"traversal", func(r *Request) { r.Path = "/api/../../etc/passwd" }},
		{"encoded traversal", func(r *Request) { r.Query = "f=%252e%252e%252fsecret" }},
		{"sql", func(r *Request) { r.Query = "id=1%20UNION%20SELECT%20password%20FROM%20users" }},
		{"script", func(r *Request) { r.Header.Set("Referer", "http://x/<script>alert(1)</script>") }},
		{"shell", func(r *Request) { r.Query = "name=a;cat%20/tmp/x" }},
		{"shell in cookie value", func(r *Request) { r.Header.Set("Cookie", "theme=dark; q=x%3Bcat%20/etc/hosts") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(t, defaultOptions(), nil, nil, nil)
			req := browserRequest("192.0.2.1")
			tt.mut(&req)
			d, err := g.Protect(context.Background(), req, 1)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, ReasonShielded, d.Reason)
		})
	}
}

func TestGateShieldAllowsOrdinaryCookies(t *testing.T) {
	cookies := []string{
		"theme=dark; cat=tabby",
		"sh=1; rm=0; curl=yes",
		"session=abc123",
	}
	for _, c := range cookies {
		t.Run(c, func(t *testing.T) {
			g := newGate(t, defaultOptions(), nil, nil, nil)
			req := browserRequest("192.0.2.1")
			req.Header.Set("Cookie", c)
			d, err := g.Protect(context.Background(), req, 1)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, ReasonAllowed, d.Reason)
		})
	}
}

func TestGateDryRunNeverDenies(t *testing.T) {
	opts := defaultOptions()
	opts.BotMode = ModeDryRun
	opts.BucketMode = ModeDryRun
	g := newGate(t, opts, nil, nil, nil)

	req := browserRequest("192.0.2.5")
	req.UserAgent = "curl/8.0"
	for i := 0; i < 7; i++ {
		d, err := g.Protect(context.Background(), req, 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestGateHostingIP(t *testing.T) {
	hosting, err := NewHostingClassifier([]string{"198.51.100.0/24"})
	require.NoError(t, err)

	g := newGate(t, defaultOptions(), nil, hosting, nil)
	d, err := g.Protect(context.Background(), browserRequest("198.51.100.77"), 1)
	require.NoError(t, err)
	assert.Equal(t, ReasonHostingIP, d.Reason)

	opts := defaultOptions()
	opts.DenyHostingIP = false
	g = newGate(t, opts, nil, hosting, nil)
	d, err = g.Protect(context.Background(), browserRequest("198.51.100.77"), 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

type fakeResolver struct {
	ptr     map[string][]string
	forward map[string][]net.IPAddr
}

func (f fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	if names, ok := f.ptr[addr]; ok {
		return names, nil
	}
	return nil, errors.New("no PTR record")
}

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if addrs, ok := f.forward[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func TestGateSpoofedSearchEngine(t *testing.T) {
	resolver := fakeResolver{
		ptr: map[string][]string{
			"66.249.66.1": {"crawl-66-249-66-1.googlebot.com."},
			"192.0.2.9":   {"evil.example.net."},
		},
		forward: map[string][]net.IPAddr{
			"crawl-66-249-66-1.googlebot.com": {{IP: net.ParseIP("66.249.66.1")}},
		},
	}
	g := newGate(t, defaultOptions(), nil, nil, NewDNSVerifier(resolver))
	ua := "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

	genuine := browserRequest("66.249.66.1")
	genuine.UserAgent = ua
	d, err := g.Protect(context.Background(), genuine, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	fake := browserRequest("192.0.2.9")
	fake.UserAgent = ua
	d, err = g.Protect(context.Background(), fake, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSpoofedBot, d.Reason)
}

type brokenStore struct{}

func (brokenStore) Take(context.Context, string, int, time.Time) (store.Result, error) {
	return store.Result{}, errors.New("connection refused")
}
func (brokenStore) Stats(context.Context) (map[string]any, error) { return nil, nil }
func (brokenStore) Close(context.Context) error                   { return nil }

func TestGateStoreFailure(t *testing.T) {
	g := newGate(t, defaultOptions(), brokenStore{}, nil, nil)
	d, err := g.Protect(context.Background(), browserRequest("192.0.2.1"), 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	opts := defaultOptions()
	opts.FailOpen = false
	g = newGate(t, opts, brokenStore{}, nil, nil)
	_, err = g.Protect(context.Background(), browserRequest("192.0.2.1"), 1)
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindStorage))
}

func TestGateDisabled(t *testing.T) {
	opts := defaultOptions()
	opts.Enabled = false
	g := newGate(t, opts, brokenStore{}, nil, nil)
	req := browserRequest("192.0.2.1")
	req.UserAgent = ""
	d, err := g.Protect(context.Background(), req, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGateKey(t *testing.T) {
	opts := defaultOptions()
	opts.Characteristics = []string{"ip.src", "header:X-Api-Client"}
	g := newGate(t, opts, nil, nil, nil)

	req := browserRequest("::ffff:192.0.2.1")
	req.Header.Set("X-Api-Client", "mobile")
	assert.Equal(t, "header:X-Api-Client=mobile|ip.src=192.0.2.1", g.Key(req))

	req.IP = netip.Addr{}
	req.Header = http.Header{}
	assert.Equal(t, "header:X-Api-Client=unknown|ip.src=unknown", g.Key(req))
}

func TestNewGateRejectsUnknownMode(t *testing.T) {
	opts := defaultOptions()
	opts.ShieldMode = "MONITOR"
	_, err := NewGate(opts, newStore(t), nil, nil, nil)
	assert.Error(t, err)
}
