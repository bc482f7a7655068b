package service

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// doerFunc stubs the webhook HTTPClient without a listener.
type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func newTestLogger() zerolog.Logger { return zerolog.New(io.Discard) }
