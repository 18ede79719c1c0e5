// Package clientip resolves the client address of a request behind proxies
// and derives a rate-limit key from it.
package clientip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"
)

type contextKey struct{}

// DefaultTrustedHeaders are consulted in order when no list is configured.
var DefaultTrustedHeaders = []string{
	"Fly-Client-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
	"X-Forwarded-For",
}

// Info is the resolved client address.
type Info struct {
	// Primary is the address used for logs: the first valid trusted header,
	// else the TCP peer.
	Primary string

	// RateLimitKey joins every distinct address seen, sorted. The TCP peer
	// is always part of it, so a spoofed header cannot move a client into
	// another client's bucket.
	RateLimitKey string
}

// Resolver extracts Info using an ordered list of trusted headers.
type Resolver struct {
	headers []string
}

// NewResolver returns a Resolver for headers. An empty list means
// DefaultTrustedHeaders.
func NewResolver(headers []string) *Resolver {
	if len(headers) == 0 {
		headers = DefaultTrustedHeaders
	}
	canon := make([]string, 0, len(headers))
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			canon = append(canon, http.CanonicalHeaderKey(h))
		}
	}
	return &Resolver{headers: canon}
}

// Middleware stores Info in the request context and rewrites RemoteAddr to
// the primary address.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := res.Resolve(r)
		r.RemoteAddr = info.Primary
		ctx := context.WithValue(r.Context(), contextKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Middleware is Resolver.Middleware with DefaultTrustedHeaders.
func Middleware(next http.Handler) http.Handler {
	return NewResolver(nil).Middleware(next)
}

// FromContext returns the Info stored by Middleware, or the zero Info.
func FromContext(ctx context.Context) Info {
	if info, ok := ctx.Value(contextKey{}).(Info); ok {
		return info
	}
	return Info{}
}

// FromRequest is FromContext(r.Context()).
func FromRequest(r *http.Request) Info {
	return FromContext(r.Context())
}

// Resolve computes Info for r. Header values that do not parse as an IP
// address are ignored.
func (res *Resolver) Resolve(r *http.Request) Info {
	var seen []string
	add := func(ip string) {
		if !slices.Contains(seen, ip) {
			seen = append(seen, ip)
		}
	}

	peer := peerIP(r.RemoteAddr)
	if peer != "" {
		add(peer)
	}

	var primary string
	for _, h := range res.headers {
		ip := headerIP(r.Header.Get(h))
		if ip == "" {
			continue
		}
		add(ip)
		if primary == "" {
			primary = ip
		}
	}
	if primary == "" {
		primary = peer
	}

	slices.Sort(seen)
	return Info{
		Primary:      primary,
		RateLimitKey: strings.Join(seen, "|"),
	}
}

// headerIP returns the first address of a possibly comma-separated header
// value, normalized, or "" if it is not an address.
func headerIP(v string) string {
	first, _, _ := strings.Cut(v, ",")
	addr, err := netip.ParseAddr(strings.TrimSpace(first))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// peerIP strips the port from a RemoteAddr. Values that are not addresses
// are returned unchanged so they still key the client.
func peerIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}
