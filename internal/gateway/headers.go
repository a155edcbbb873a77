package gateway

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
)

// nonceBytes is the CSP nonce entropy per response.
const nonceBytes = 16

func newNonce() string {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("nonce entropy unavailable: %v", err))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

type nonceKey struct{}

func contextWithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceKey{}, nonce)
}

func nonceFromContext(ctx context.Context) string {
	nonce, _ := ctx.Value(nonceKey{}).(string)
	return nonce
}

// securityHeaders sets the strict response headers on every HTTP response
// and threads a per-response CSP nonce through the request context so the
// chat UI can mark its inline assets.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonce := newNonce()
		h := w.Header()
		h.Set("Content-Security-Policy", fmt.Sprintf(
			"default-src 'none'; script-src 'nonce-%s'; connect-src 'self' ws: wss:; style-src 'nonce-%s'",
			nonce, nonce))
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "0")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

		ctx := contextWithNonce(r.Context(), nonce)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
