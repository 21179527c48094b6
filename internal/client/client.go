// Package client is the initiating side of the sync protocol: it opens an
// authenticated session against a peer's HTTP endpoint and exchanges
// encrypted frames over it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trosyn/lansync/internal/common"
	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
	"github.com/trosyn/lansync/internal/session"
)

type Client struct {
	baseURL string
	manager *session.Manager
	http    *http.Client
	logger  logging.Logger

	sess   *session.Session
	ticket string
}

// NewClient targets one peer at baseURL (e.g. "http://10.0.0.2:5001").
// transferTimeout bounds each HTTP exchange.
func NewClient(baseURL string, m *session.Manager, transferTimeout time.Duration, l logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		manager: m,
		http:    &http.Client{Timeout: transferTimeout},
		logger:  l.With("module", "sync_client", "peer_url", baseURL),
	}
}

// Connect performs the handshake and establishes the session.
func (c *Client) Connect(ctx context.Context) error {
	ch, err := c.manager.NewChallenge()
	if err != nil {
		return err
	}

	body, err := json.Marshal(ch)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sync/handshake", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("handshake request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return common.ErrCapacity
	default:
		return common.ErrUnauthorized
	}

	reply := &session.HandshakeReply{}
	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		return common.ErrUnauthorized
	}

	sess, err := c.manager.Establish(ctx, reply, ch.Nonce)
	if err != nil {
		return err
	}

	c.sess = sess
	c.ticket = reply.Ticket
	c.logger.Debug(ctx, "session opened", "session", sess.ID, "peer", sess.PeerID)
	return nil
}

// PeerID returns the authenticated identity of the connected peer.
func (c *Client) PeerID() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.PeerID
}

// Manifest sends the local manifest and returns the peer's.
func (c *Client) Manifest(ctx context.Context, local models.Manifest) (models.Manifest, error) {
	req := models.ManifestPayload{NodeID: c.manager.NodeID(), Items: local}
	var resp models.ManifestPayload
	if err := c.exchange(ctx, "/api/v1/sync/manifest", req, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Fetch retrieves full items for the given ids.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]models.Item, error) {
	var resp models.FetchResponse
	if err := c.exchange(ctx, "/api/v1/sync/items/fetch", models.FetchRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Push transfers items for the peer to reconcile.
func (c *Client) Push(ctx context.Context, items []models.Item) (*models.PushResponse, error) {
	var resp models.PushResponse
	if err := c.exchange(ctx, "/api/v1/sync/items/push", models.PushRequest{Items: items}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close tears the session down on both ends.
func (c *Client) Close(ctx context.Context) {
	if c.sess == nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sync/close", nil)
	if err == nil {
		req.Header.Set("Authorization", "Bearer "+c.ticket)
		if resp, err := c.http.Do(req); err == nil {
			resp.Body.Close()
		}
	}

	c.manager.Close(ctx, c.sess.ID)
	c.sess = nil
	c.ticket = ""
}

// exchange seals payload into a frame, posts it, and opens the response
// frame into out.
func (c *Client) exchange(ctx context.Context, path string, payload, out any) error {
	if c.sess == nil {
		return common.ErrSessionExpired
	}

	f, err := c.sess.Seal(payload)
	if err != nil {
		return err
	}

	body, err := json.Marshal(f)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.ticket)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sync exchange %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return common.ErrSessionExpired
	case http.StatusConflict:
		return common.ErrReplay
	case http.StatusBadRequest:
		return common.ErrBadFrame
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("sync exchange %s: status %d %q", path, resp.StatusCode, b)
	}

	rf := &session.Frame{}
	if err := json.NewDecoder(resp.Body).Decode(rf); err != nil {
		return common.ErrBadFrame
	}

	var plaintext json.RawMessage
	if err := c.sess.Open(rf, &plaintext); err != nil {
		return err
	}
	return json.Unmarshal(plaintext, out)
}
