// Package dispatch hands scheduled calls and texts to the telephony and SMS
// providers.
package dispatch

import (
	"errors"
	"net/http"
	"time"
)

var ErrNotInFuture = errors.New("scheduled time must be in the future")

const defaultHTTPTimeout = 10 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultHTTPTimeout,
	}
}
