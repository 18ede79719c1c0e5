package api

import (
	"net/http"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// clientUARegex matches the mobile app's User-Agent,
// e.g. "Unwatch/1.4.0 (iOS 17.2)".
var clientUARegex = regexp.MustCompile(`^Unwatch/(\S+)\s+\((\w+)\s*([^)]*)\)`)

// ClientInfo is what the mobile app reports about itself.
type ClientInfo struct {
	Version   string
	Platform  string
	OSVersion string
}

// ParseClientUserAgent returns nil for user agents that are not the app's.
func ParseClientUserAgent(ua string) *ClientInfo {
	m := clientUARegex.FindStringSubmatch(ua)
	if m == nil {
		return nil
	}
	return &ClientInfo{Version: m[1], Platform: m[2], OSVersion: m[3]}
}

// SpanEnricher tags the current span with the app version and platform.
func SpanEnricher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info := ParseClientUserAgent(r.Header.Get("User-Agent")); info != nil {
			trace.SpanFromContext(r.Context()).SetAttributes(
				attribute.String("client.version", info.Version),
				attribute.String("client.platform", info.Platform),
				attribute.String("client.os_version", info.OSVersion),
			)
		}
		next.ServeHTTP(w, r)
	})
}
