package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies between the client
	// and this server. 0 = no proxies (X-Forwarded-For ignored), 1 = a single
	// load balancer (rightmost XFF entry), and so on.
	TrustedHops int
}

// ClientIP extracts the client IP from the request and stores it in the
// context using default options (no trusted proxies).
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions returns middleware that extracts the client IP using
// the given options.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// extractClientAddr resolves the real client address. X-Forwarded-For is only
// honored when the request arrived from a private address AND trusted hops
// are configured; otherwise the headers are stripped so nothing downstream
// accidentally trusts them.
func extractClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}

	clientAddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	ip := net.ParseIP(clientAddr)
	if ip == nil {
		return "0.0.0.0"
	}

	if !ip.IsPrivate() || trustedHops <= 0 {
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Proto")
		return clientAddr
	}

	// select the Nth-from-end XFF entry; fewer entries than expected proxies
	// means misconfiguration or manipulation, fail closed
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		idx := len(parts) - trustedHops
		if idx < 0 {
			r.Header.Del("X-Forwarded-For")
			r.Header.Del("X-Forwarded-Proto")
			return clientAddr
		}
		if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
			clientAddr = candidate
		}
	}

	return clientAddr
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
