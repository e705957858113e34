// Package homedir is the client for mkhomedird, the satellite daemon
// that owns home-directory creation and deletion. usermgrd never
// touches the filesystem itself: it asks mkhomedird over a local Unix
// socket, since that daemon runs with the privileges needed to copy
// skeleton files and chown into freshly allocated uid/gid space.
package homedir

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// Client talks to mkhomedird over a Unix domain socket.
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
	return &Client{http: &http.Client{Transport: transport, Timeout: 30 * time.Second}}
}

type createResponse struct {
	Status string `json:"status"`
}

// CreateUser asks mkhomedird to create user's home directory.
func (c *Client) CreateUser(ctx context.Context, user string) error {
	resp, err := c.do(ctx, http.MethodPost, "/user/"+user, nil)
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindMkhomedirConnect, err)
	}
	defer resp.Body.Close()

	var body createResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return usermgrerr.Wrap(usermgrerr.KindMkhomedirFailed, err)
	}
	if body.Status != "ok" {
		return usermgrerr.New(usermgrerr.KindMkhomedirFailed, body.Status)
	}
	return nil
}

type deleteResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
}

// RequestDeleteToken starts the two-phase home-directory deletion
// handshake: mkhomedird records a random token for user and hands it
// back with status "again"; the token is only valid for a short time.
func (c *Client) RequestDeleteToken(ctx context.Context, user string) (string, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/user/"+user, nil)
	if err != nil {
		return "", usermgrerr.Wrap(usermgrerr.KindMkhomedirConnect, err)
	}
	defer resp.Body.Close()

	var body deleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", usermgrerr.Wrap(usermgrerr.KindMkhomedirFailed, err)
	}
	if body.Status != "again" || body.Token == "" {
		return "", usermgrerr.New(usermgrerr.KindMkhomedirFailed, body.Status)
	}
	return body.Token, nil
}

// ConfirmDelete completes the deletion handshake with the token from
// RequestDeleteToken. This call is irreversible.
func (c *Client) ConfirmDelete(ctx context.Context, user, token string) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/user/%s?token=%s", user, token), nil)
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindMkhomedirConnect, err)
	}
	defer resp.Body.Close()

	var body deleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return usermgrerr.Wrap(usermgrerr.KindMkhomedirFailed, err)
	}
	switch body.Status {
	case "ok":
		return nil
	case "token_invalid":
		return usermgrerr.New(usermgrerr.KindTokenInvalid, body.Status)
	case "token_expired":
		return usermgrerr.New(usermgrerr.KindTokenExpired, body.Status)
	default:
		return usermgrerr.New(usermgrerr.KindMkhomedirFailed, body.Status)
	}
}

type gidDeleteResponse struct {
	Status string `json:"status"`
}

// DeleteGroupDirectories asks mkhomedird to remove group-owned
// directories for one or more gids (comma-separated in the path),
// used after garbage-collecting empty groups.
func (c *Client) DeleteGroupDirectories(ctx context.Context, gidList string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/group/"+gidList, nil)
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindMkhomedirConnect, err)
	}
	defer resp.Body.Close()

	var body gidDeleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return usermgrerr.Wrap(usermgrerr.KindMkhomedirGroupDel, err)
	}
	if body.Status != "ok" {
		return usermgrerr.New(usermgrerr.KindMkhomedirGroupDel, body.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://mkhomedird"+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}
