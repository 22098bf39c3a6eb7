// Package httpclient builds the HTTP clients used for cheap portal probes.
// Tender extraction never goes through these; that is the browser's job.
package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"time"
)

// New returns a client suitable for probing NIC portal pages. The portals
// hand out a JSESSIONID on first contact and bounce requests that arrive
// without one, so the client carries a cookie jar across requests.
func New(timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}
	if jar, err := cookiejar.New(nil); err == nil {
		client.Jar = jar
	}
	return client
}
