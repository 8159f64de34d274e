package producer

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"
)

// UserAgentHash is the hex SHA-256 of a user agent string.
func UserAgentHash(ua string) string {
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])
}

// SessionIDHash derives a daily, cookie-free session identifier from the
// client address and the first 100 bytes of its user agent.
func SessionIDHash(ip, ua string, day time.Time) string {
	if len(ua) > 100 {
		ua = ua[:100]
	}
	sum := sha256.Sum256([]byte(ip + "|" + ua + "|" + day.Format("2006-01-02")))
	return hex.EncodeToString(sum[:])
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// FullURL rebuilds the absolute URL of an incoming request.
func FullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
