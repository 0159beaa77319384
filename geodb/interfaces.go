package geodb

import "net/http"

// Logger is a minimal interface this package emits events to. Main
// package binds it to zerolog.
type Logger interface {
	LookupError(ip string, err error)
	UpdateInfo(msg string)
	UpdateError(err error)
}

// HTTPClient is an interface of a client which downloads database
// files. Production code wraps net/http client with a rate limiter,
// tests supply mocks.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
