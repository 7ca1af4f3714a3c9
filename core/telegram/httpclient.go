package telegram

import (
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kompomir/servicebot/core/telegram/netutil"
)

const (
	dialTimeout      = 5 * time.Second
	tlsTimeout       = 5 * time.Second
	idleConnTimeout  = 30 * time.Second
	keepAlive        = 30 * time.Second
	retryAttempts    = 3
	retryInitialWait = 500 * time.Millisecond
	retryMaxWait     = 4 * time.Second
)

// BuildHTTPClient returns the client used for Bot API calls. Transport
// errors are retried with exponential backoff when the request body can be
// replayed. The client timeout stays above the long poll timeout.
func BuildHTTPClient(pollTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   pollTimeout + 20*time.Second,
		Transport: &retryTransport{base: transport, attempts: retryAttempts},
	}
}

type retryTransport struct {
	base     http.RoundTripper
	attempts uint64
	// newBackOff is replaced in tests.
	newBackOff func() backoff.BackOff
}

func (t *retryTransport) policy() backoff.BackOff {
	if t.newBackOff != nil {
		return t.newBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialWait
	b.MaxInterval = retryMaxWait
	return b
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	var (
		resp    *http.Response
		lastErr error
	)
	op := func() error {
		attempt := req
		if lastErr != nil {
			if req.Body != nil && req.GetBody == nil {
				return backoff.Permanent(lastErr)
			}
			attempt = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return backoff.Permanent(err)
				}
				attempt.Body = body
			}
		}

		r, err := base.RoundTrip(attempt)
		if err != nil {
			lastErr = err
			if netutil.ShouldRetry(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(t.policy(), t.attempts), req.Context())
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return resp, nil
}
