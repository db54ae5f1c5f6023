package admission

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Bot categories.
const (
	CategorySearchEngine    = "SEARCH_ENGINE"
	CategoryMonitor         = "MONITOR"
	CategoryHTTPLibrary     = "HTTP_LIBRARY"
	CategoryScraper         = "SCRAPER"
	CategoryHeadlessBrowser = "HEADLESS_BROWSER"
	CategoryAICrawler       = "AI_CRAWLER"
	CategoryUnknown         = "UNKNOWN"
)

// Bot is one known automated client.
type Bot struct {
	Name     string
	Category string
	// Token is matched case-insensitively against the User-Agent.
	Token string
	// Domains are the reverse DNS suffixes a genuine instance resolves to.
	// Empty means the identity cannot be verified.
	Domains []string
}

// Catalog is the list of recognised automated clients, most specific first.
var Catalog = []Bot{
	{Name: "GOOGLE_CRAWLER", Category: CategorySearchEngine, Token: "googlebot", Domains: []string{"googlebot.com", "google.com"}},
	{Name: "BING_CRAWLER", Category: CategorySearchEngine, Token: "bingbot", Domains: []string{"search.msn.com"}},
	{Name: "YANDEX_CRAWLER", Category: CategorySearchEngine, Token: "yandexbot", Domains: []string{"yandex.ru", "yandex.net", "yandex.com"}},
	{Name: "BAIDU_CRAWLER", Category: CategorySearchEngine, Token: "baiduspider", Domains: []string{"baidu.com", "baidu.jp"}},
	{Name: "APPLE_CRAWLER", Category: CategorySearchEngine, Token: "applebot", Domains: []string{"applebot.apple.com"}},
	{Name: "DUCKDUCKGO_CRAWLER", Category: CategorySearchEngine, Token: "duckduckbot"},
	{Name: "OPENAI_CRAWLER", Category: CategoryAICrawler, Token: "gptbot"},
	{Name: "COMMONCRAWL_CRAWLER", Category: CategoryAICrawler, Token: "ccbot"},
	{Name: "PERPLEXITY_CRAWLER", Category: CategoryAICrawler, Token: "perplexitybot"},
	{Name: "AHREFS_CRAWLER", Category: CategoryScraper, Token: "ahrefsbot"},
	{Name: "SEMRUSH_CRAWLER", Category: CategoryScraper, Token: "semrushbot"},
	{Name: "SCRAPY", Category: CategoryScraper, Token: "scrapy"},
	{Name: "UPTIMEROBOT_MONITOR", Category: CategoryMonitor, Token: "uptimerobot"},
	{Name: "PINGDOM_MONITOR", Category: CategoryMonitor, Token: "pingdom"},
	{Name: "STATUSCAKE_MONITOR", Category: CategoryMonitor, Token: "statuscake"},
	{Name: "HEADLESS_CHROME", Category: CategoryHeadlessBrowser, Token: "headlesschrome"},
	{Name: "PHANTOMJS", Category: CategoryHeadlessBrowser, Token: "phantomjs"},
	{Name: "CURL", Category: CategoryHTTPLibrary, Token: "curl/"},
	{Name: "WGET", Category: CategoryHTTPLibrary, Token: "wget/"},
	{Name: "PYTHON_REQUESTS", Category: CategoryHTTPLibrary, Token: "python-requests"},
	{Name: "PYTHON_URLLIB", Category: CategoryHTTPLibrary, Token: "python-urllib"},
	{Name: "PYTHON_AIOHTTP", Category: CategoryHTTPLibrary, Token: "aiohttp"},
	{Name: "GO_HTTP", Category: CategoryHTTPLibrary, Token: "go-http-client"},
	{Name: "AXIOS", Category: CategoryHTTPLibrary, Token: "axios/"},
	{Name: "NODE_FETCH", Category: CategoryHTTPLibrary, Token: "node-fetch"},
	{Name: "OKHTTP", Category: CategoryHTTPLibrary, Token: "okhttp"},
	{Name: "JAVA_HTTP", Category: CategoryHTTPLibrary, Token: "java/"},
	{Name: "POSTMAN", Category: CategoryHTTPLibrary, Token: "postmanruntime"},
}

// genericBotPattern matches the generic tokens as whole words ("compatible; bot")
// or as the tail of a product token ("FancyCrawler/0.1"). Brand names that
// merely contain the letters, such as "CUBOT X30", do not match.
var genericBotPattern = regexp.MustCompile(`(^|[^a-z])(bot|crawler|spider|scraper)s?([^a-z]|$)|[a-z](bot|crawler|spider|scraper)/`)

// Classify returns the catalog entry matching userAgent. An empty agent or
// one carrying a generic crawler token is reported as an unknown bot.
func Classify(userAgent string) (Bot, bool) {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return Bot{Name: "EMPTY_USER_AGENT", Category: CategoryUnknown}, true
	}
	for _, b := range Catalog {
		if strings.Contains(ua, b.Token) {
			return b, true
		}
	}
	if genericBotPattern.MatchString(ua) {
		return Bot{Name: "UNKNOWN_BOT", Category: CategoryUnknown}, true
	}
	return Bot{}, false
}

type allowList struct {
	names      map[string]struct{}
	categories map[string]struct{}
}

// newAllowList parses entries such as "CATEGORY:SEARCH_ENGINE" or
// "CURL".
func newAllowList(entries []string) allowList {
	al := allowList{names: map[string]struct{}{}, categories: map[string]struct{}{}}
	for _, e := range entries {
		e = strings.ToUpper(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if cat, ok := strings.CutPrefix(e, "CATEGORY:"); ok {
			al.categories[cat] = struct{}{}
			continue
		}
		al.names[e] = struct{}{}
	}
	return al
}

func (al allowList) permits(b Bot) bool {
	if _, ok := al.names[b.Name]; ok {
		return true
	}
	_, ok := al.categories[b.Category]
	return ok
}

type botRule struct {
	mode          Mode
	allow         allowList
	verifier      Verifier
	verifyTimeout time.Duration
}

func (r botRule) name() string { return "bot" }

func (r botRule) evaluate(ctx context.Context, req Request) RuleResult {
	res := RuleResult{Rule: r.name(), Mode: r.mode, Conclusion: ConclusionAllow, Reason: ReasonAllowed}

	b, isBot := Classify(req.UserAgent)
	if !isBot {
		return res
	}
	res.Bot = b.Name

	if !r.allow.permits(b) {
		res.Conclusion = ConclusionDeny
		res.Reason = ReasonBot
		return res
	}

	if len(b.Domains) > 0 && r.verifier != nil {
		vctx := ctx
		if r.verifyTimeout > 0 {
			var cancel context.CancelFunc
			vctx, cancel = context.WithTimeout(ctx, r.verifyTimeout)
			defer cancel()
		}
		if !r.verifier.Verify(vctx, req.IP, b.Domains) {
			res.Spoofed = true
		}
	}
	return res
}
