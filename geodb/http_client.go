package geodb

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type httpClient struct {
	userAgent   string
	client      *http.Client
	rateLimiter *rate.Limiter
}

func (h httpClient) Do(req *http.Request) (*http.Response, error) {
	if err := h.rateLimiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		flushResponse(resp.Body)

		return nil, fmt.Errorf("netloc has responded with %s", resp.Status)
	}

	return resp, nil
}

// NewHTTPClient wraps a net/http client with a user agent and a rate
// limiter. Please see https://pkg.go.dev/golang.org/x/time/rate for a
// meaning of the rate limiter parameters.
func NewHTTPClient(client *http.Client,
	userAgent string,
	rateLimiterInterval time.Duration,
	rateLimitBurst int) HTTPClient {
	return httpClient{
		userAgent:   userAgent,
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Every(rateLimiterInterval), rateLimitBurst),
	}
}

func flushResponse(body io.ReadCloser) {
	io.Copy(ioutil.Discard, body) // nolint: errcheck
	body.Close()
}
