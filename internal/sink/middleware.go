package sink

import (
	"math"
	"net/http"
	"time"
)

// authTransport adds an Authorization: Bearer header to every request.
type authTransport struct {
	token string
	next  http.RoundTripper
}

// WithAuth wraps a RoundTripper with bearer-token authorization.
func WithAuth(token string, next http.RoundTripper) http.RoundTripper {
	return &authTransport{token: token, next: next}
}

func (a *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+a.token)
	return a.next.RoundTrip(req)
}

// sleepWithBackoff sleeps for exponential backoff: 1s * 2^attempt.
func sleepWithBackoff(attempt int) {
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	time.Sleep(d)
}
