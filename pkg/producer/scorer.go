package producer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pulsegate/pkg/cache"
)

// Human probability classifications.
const (
	LikelyHuman   = "likely_human"
	PossiblyHuman = "possibly_human"
	ProbablyBot   = "probably_bot"
	DefinitelyBot = "definitely_bot"
)

// HumanScore is the outcome of scoring one request.
type HumanScore struct {
	Score          int
	Classification string
	Reasons        []string
}

// IsBot reports whether the classification rules the request out.
func (h HumanScore) IsBot() bool {
	return h.Classification == ProbablyBot || h.Classification == DefinitelyBot
}

// HumanScorer rates how likely a request comes from a person.
type HumanScorer interface {
	Score(ctx context.Context, r *http.Request) HumanScore
}

// ClassifyScore maps a 0-100 score to a classification.
func ClassifyScore(score int) string {
	switch {
	case score >= 70:
		return LikelyHuman
	case score >= 50:
		return PossiblyHuman
	case score >= 30:
		return ProbablyBot
	}
	return DefinitelyBot
}

var (
	scorerSuspicious = []string{
		"suspicious", "fake", "test", "localhost", "postman",
		"curl/", "wget/", "python-requests", "empty", "ruby",
		"clearly-fake", "not-a-browser", "unknown", "bot", "crawler",
		"spider", "http-client", "java/", "php/", "scripting", "headless",
		"phantom", "selenium", "webdriver", "automation",
	}
	commonReferrers = []string{
		"google.com", "bing.com", "yahoo.com", "facebook.com",
		"twitter.com", "instagram.com", "linkedin.com", "youtube.com",
	}
	browserStructure = regexp.MustCompile(`(?:Mozilla|AppleWebKit|Chrome|Safari|Firefox|Edge|MSIE|Trident).*(?:Windows NT|Macintosh|Linux|Android|iPhone|iPad).*(?:Chrome|Safari|Firefox|Edge|MSIE)`)
)

const (
	frequencyWindow = time.Minute
	frequencyLimit  = 10
)

// HeaderScorer is the default HumanScorer. It starts at 50 and adjusts
// for user agent shape, referrer, browser headers and, when a store is
// set, the per-address request rate.
type HeaderScorer struct {
	store cache.Store
}

// NewHeaderScorer returns a scorer; store may be nil to skip rate checks.
func NewHeaderScorer(store cache.Store) *HeaderScorer {
	return &HeaderScorer{store: store}
}

func (s *HeaderScorer) Score(ctx context.Context, r *http.Request) HumanScore {
	var reasons []string
	score := 50

	score = scoreUserAgent(r.UserAgent(), score, &reasons)
	score = scoreReferrer(r.Referer(), score, &reasons)
	score = scoreHeaders(r.Header, score, &reasons)
	score = s.scoreFrequency(ctx, ClientIP(r), score, &reasons)

	score = max(0, min(100, score))
	return HumanScore{Score: score, Classification: ClassifyScore(score), Reasons: reasons}
}

func scoreUserAgent(ua string, score int, reasons *[]string) int {
	if ua == "" {
		*reasons = append(*reasons, "Missing user agent")
		return score - 40
	}
	switch n := len([]rune(ua)); {
	case n < 30:
		*reasons = append(*reasons, "User agent suspiciously short")
		score -= 10
	case n > 500:
		*reasons = append(*reasons, "User agent suspiciously long")
		score -= 5
	default:
		*reasons = append(*reasons, "User agent has reasonable length")
		score += 10
	}

	lower := strings.ToLower(ua)
	for _, p := range scorerSuspicious {
		if strings.Contains(lower, p) {
			*reasons = append(*reasons, "User agent contains suspicious term: "+p)
			score -= 30
			break
		}
	}

	if browserStructure.MatchString(ua) {
		*reasons = append(*reasons, "User agent has typical browser structure")
		score += 15
	} else {
		*reasons = append(*reasons, "User agent lacks typical browser structure")
		score -= 25
	}
	return score
}

func scoreReferrer(ref string, score int, reasons *[]string) int {
	if ref == "" {
		return score
	}
	*reasons = append(*reasons, "Request includes a referrer")
	score += 15

	if u, err := url.ParseRequestURI(ref); err == nil && u.Scheme != "" && u.Host != "" {
		*reasons = append(*reasons, "Referrer is a valid URL")
		score += 10
	}
	lower := strings.ToLower(ref)
	for _, d := range commonReferrers {
		if strings.Contains(lower, d) {
			*reasons = append(*reasons, fmt.Sprintf("Referrer is from common source (%s)", d))
			score += 5
			break
		}
	}
	return score
}

func scoreHeaders(h http.Header, score int, reasons *[]string) int {
	found := 0
	for _, name := range []string{"Accept", "Accept-Language", "Accept-Encoding"} {
		if h.Get(name) != "" {
			found++
		}
	}
	if found >= 2 {
		*reasons = append(*reasons, "Request contains typical browser headers")
		score += 15
	}
	if h.Get("Cookie") != "" {
		*reasons = append(*reasons, "Request includes cookies")
		score += 10
	}
	if h.Get("DNT") != "" {
		*reasons = append(*reasons, "Request includes DNT header typical of browsers")
		score += 5
	}
	return score
}

// scoreFrequency counts requests per address over a rolling minute.
// The counter is best effort; store errors leave the score unchanged.
func (s *HeaderScorer) scoreFrequency(ctx context.Context, ip string, score int, reasons *[]string) int {
	if s.store == nil {
		return score
	}
	key := "pulsegate:request_frequency:" + ip
	count := 0
	if raw, err := s.store.Get(ctx, key); err == nil {
		count, _ = strconv.Atoi(string(raw))
	}
	if count > frequencyLimit {
		*reasons = append(*reasons, "High request frequency detected")
		score -= 25
	}
	_ = s.store.Set(ctx, key, []byte(strconv.Itoa(count+1)), frequencyWindow)
	return score
}
