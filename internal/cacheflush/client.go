// Package cacheflush is the client for nscdflushd, the satellite
// daemon that flushes nscd/sss NSS caches so a just-written LDAP
// change is visible to getpwnam/getgrnam immediately instead of after
// whatever TTL the cache daemon would otherwise wait out.
package cacheflush

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// Client talks to nscdflushd over a Unix domain socket.
type Client struct {
	http *http.Client
}

// New returns a Client that dials socketPath for every request.
func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{http: &http.Client{Transport: transport, Timeout: 10 * time.Second}}
}

type flushResponse struct {
	Status string `json:"status"`
	Code   int    `json:"code"`
}

// FlushAccount asks nscdflushd to invalidate its passwd/group caches.
func (c *Client) FlushAccount(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, "http://nscdflushd/account", nil)
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindNscdflushdConnect, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindNscdflushdConnect, err)
	}
	defer resp.Body.Close()

	var body flushResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return usermgrerr.Wrap(usermgrerr.KindFlushFailed, err)
	}
	if body.Status != "ok" {
		return usermgrerr.New(usermgrerr.KindFlushFailed, body.Status)
	}
	return nil
}
