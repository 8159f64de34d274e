package producer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/cache"
	"pulsegate/pkg/config"
	"pulsegate/pkg/engine"
	"pulsegate/pkg/model"
)

// SkipReason says why a request was not recorded as a visit.
type SkipReason string

const (
	Tracked            SkipReason = ""
	SkipDisabled       SkipReason = "disabled"
	SkipNoUserAgent    SkipReason = "no_user_agent"
	SkipPassiveClient  SkipReason = "passive_client"
	SkipExcludedPath   SkipReason = "excluded_path"
	SkipRequestFilter  SkipReason = "request_filter"
	SkipUserAgentSize  SkipReason = "user_agent_length"
	SkipSuspiciousUA   SkipReason = "suspicious_user_agent"
	SkipKnownBot       SkipReason = "known_bot"
	SkipLowHumanScore  SkipReason = "low_human_score"
	SkipNoLanguage     SkipReason = "no_accept_language"
	SkipGenericAccept  SkipReason = "generic_accept"
	SkipThrottled      SkipReason = "throttled"
	SkipFilteredOutput SkipReason = "filtered"
)

// RequestFilter lets the host exclude requests from visit tracking.
type RequestFilter interface {
	ShouldSkip(r *http.Request) bool
}

// RequestFilterFunc adapts a function to RequestFilter.
type RequestFilterFunc func(r *http.Request) bool

func (f RequestFilterFunc) ShouldSkip(r *http.Request) bool { return f(r) }

var (
	suspiciousAgents = []string{
		"suspicious", "fake", "test", "localhost", "postman",
		"curl/", "wget/", "python-requests", "empty",
		"clearly-fake", "not-a-browser", "unknown",
		"go-http-client", "libwww-perl", "apache-httpclient",
		"node-fetch", "axios/", "okhttp", "java/", "ruby/",
		"perl/", "scrapy", "requests/", "http_request",
	}
	botAgents = []string{
		"saashub", "internetmeasurement", "alittle client", "applebot",
		"baiduspider", "bingpreview", "bytespider", "ccbot", "chatgpt-user",
		"claude-web", "claudebot", "dataforseobot", "dotbot", "facebot",
		"facebookexternalhit", "gptbot", "ia_archiver", "imagesiftbot",
		"linkedinbot", "mj12bot", "petalbot", "pinterestbot", "semrushbot",
		"slackbot", "slurp", "telegrambot", "twitterbot", "whatsapp",
		"yandexbot", "amazon cloudfront", "headlesschrome", "puppeteer",
		"playwright", "phantomjs", "electron", "cypress", "nightwatch",
		"zoominfobot", "ahrefsbot", "duckduckbot", "screaming frog",
		"serpstatbot", "mojeekbot",
	}
	crawlerPattern = regexp.MustCompile(`(?i)(bot\b|bot/|crawl|spider|slurp|archiver|fetcher|scanner|monitor|preview|lighthouse|pagespeed|uptime|feed|validator)`)

	tabletPattern  = regexp.MustCompile(`ipad|tablet|playbook|silk`)
	mobilePattern  = regexp.MustCompile(`android|iphone|ipod|blackberry|iemobile|opera mini|opera mobi|webos|mobile safari|samsung.+mobile`)
	consolePattern = regexp.MustCompile(`nintendo|playstation|xbox`)

	browserPatterns = []struct {
		name string
		re   *regexp.Regexp
	}{
		{"Edge", regexp.MustCompile(`(?i)Edge?/`)},
		{"Opera", regexp.MustCompile(`(?i)(Opera|OPR)/`)},
		{"Samsung", regexp.MustCompile(`(?i)SamsungBrowser/`)},
		{"Firefox", regexp.MustCompile(`(?i)Firefox/`)},
		{"Chrome", regexp.MustCompile(`(?i)Chrome/`)},
		{"Safari", regexp.MustCompile(`(?i)Version/.*Safari`)},
		{"IE", regexp.MustCompile(`(?i)(MSIE |Trident/.*rv:)`)},
		{"UCBrowser", regexp.MustCompile(`(?i)UCBrowser/`)},
	}
)

var visitFields = []string{
	"url", "path", "timestamp", "referrer", "country_code", "device_type",
	"browser_name", "utm_source", "utm_medium", "utm_campaign", "utm_content",
	"utm_term", "session_id_hash", "user_agent_hash",
	"human_probability_score", "human_probability_reasons",
}

// VisitOption configures a VisitTracker.
type VisitOption func(*VisitTracker)

func WithScorer(s HumanScorer) VisitOption {
	return func(v *VisitTracker) { v.scorer = s }
}

func WithRequestFilter(f RequestFilter) VisitOption {
	return func(v *VisitTracker) { v.filter = f }
}

// VisitTracker records server-side page visits from human browsers.
type VisitTracker struct {
	base
	store  cache.Store
	scorer HumanScorer
	filter RequestFilter
}

// NewVisitTracker builds a tracker. store holds the per-minute throttle
// keys and, for the default scorer, request counters.
func NewVisitTracker(cfg *config.Config, sink engine.Sink, store cache.Store, log logrus.FieldLogger, opts ...VisitOption) *VisitTracker {
	fields := visitFields
	if cfg.WebsiteAnalytics.PreserveUserAgent {
		fields = append(append([]string(nil), visitFields...), "user_agent")
	}
	chain := engine.NewProcessorChain(engine.NewAllowListProcessor("allow_list", fields...))
	v := &VisitTracker{
		base:   newBase(cfg, model.PageVisits, sink, chain, log),
		store:  store,
		scorer: NewHeaderScorer(store),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Track records r as a page visit unless one of the filters rules it
// out. It reports the reason a request was skipped, or Tracked.
func (v *VisitTracker) Track(ctx context.Context, r *http.Request) SkipReason {
	if !v.Enabled() {
		return SkipDisabled
	}
	ua := r.UserAgent()
	if ua == "" {
		return SkipNoUserAgent
	}
	if r.Header.Get("X-Client-Mode") == "passive" {
		return SkipPassiveClient
	}
	if v.excludedPath(r.URL.Path) {
		return SkipExcludedPath
	}
	if v.filter != nil && v.filter.ShouldSkip(r) {
		return SkipRequestFilter
	}
	if n := utf8.RuneCountInString(ua); n < v.cfg.WebsiteAnalytics.UserAgentMin || n > v.cfg.WebsiteAnalytics.UserAgentMax {
		return SkipUserAgentSize
	}
	lower := strings.ToLower(ua)
	if containsAny(lower, suspiciousAgents) {
		return SkipSuspiciousUA
	}
	if crawlerPattern.MatchString(ua) || containsAny(lower, botAgents) {
		return SkipKnownBot
	}
	score := v.scorer.Score(ctx, r)
	if score.IsBot() {
		return SkipLowHumanScore
	}
	if r.Header.Get("Accept-Language") == "" {
		return SkipNoLanguage
	}
	if accept := r.Header.Get("Accept"); accept == "" || accept == "*/*" {
		return SkipGenericAccept
	}

	now := v.now()
	ip := ClientIP(r)
	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	if v.store != nil && v.cfg.WebsiteAnalytics.Throttle > 0 {
		sum := md5.Sum([]byte(ip + "|" + path + "|" + now.Format("2006-01-02-15-04")))
		key := "pulsegate:visit:" + hex.EncodeToString(sum[:])
		first, err := v.store.SetNX(ctx, key, []byte("1"), v.cfg.WebsiteAnalytics.Throttle)
		if err != nil {
			v.log.WithError(err).Warn("Visit throttle unavailable, recording anyway")
		} else if !first {
			return SkipThrottled
		}
	}

	q := r.URL.Query()
	data := map[string]any{
		"url":                       FullURL(r),
		"path":                      path,
		"ip":                        ip,
		"user_agent":                ua,
		"user_agent_hash":           UserAgentHash(ua),
		"referrer":                  nullable(r.Referer()),
		"device_type":               DeviceType(ua),
		"browser_name":              BrowserName(ua),
		"country_code":              nil,
		"session_id_hash":           SessionIDHash(ip, ua, now),
		"timestamp":                 now.Format("2006-01-02T15:04:05Z07:00"),
		"human_probability_score":   score.Score,
		"human_probability_reasons": score.Reasons,
	}
	for _, k := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term"} {
		data[k] = nullable(q.Get(k))
	}

	if _, ok := v.emit(ctx, data); !ok {
		return SkipFilteredOutput
	}
	return Tracked
}

func (v *VisitTracker) excludedPath(path string) bool {
	first, _, _ := strings.Cut(strings.TrimLeft(path, "/"), "/")
	for _, p := range v.cfg.WebsiteAnalytics.ExcludedPaths {
		if first == p {
			return true
		}
	}
	return false
}

// DeviceType classifies a user agent as tablet, mobile, console or desktop.
func DeviceType(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case tabletPattern.MatchString(lower),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return "tablet"
	case mobilePattern.MatchString(lower), strings.Contains(lower, "mobile"):
		return "mobile"
	case consolePattern.MatchString(lower):
		return "console"
	}
	return "desktop"
}

// BrowserName returns the browser family of a user agent, or Other.
func BrowserName(ua string) string {
	for _, b := range browserPatterns {
		if b.re.MatchString(ua) {
			return b.name
		}
	}
	return "Other"
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
