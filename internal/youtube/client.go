// SPDX-License-Identifier: MIT

// Package youtube is a thin client for the slice of the YouTube Live
// Streaming API the monitor needs: listing broadcasts, resolving bound
// streams and nudging broadcast lifecycle transitions.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/storesace-cv/bwb-stream2yt/internal/log"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

var scopes = []string{
	"https://www.googleapis.com/auth/youtube",
	"https://www.googleapis.com/auth/youtube.readonly",
}

// APIError is a non-2xx response from the platform API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("youtube api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Broadcast is the subset of a liveBroadcast resource the monitor reads.
type Broadcast struct {
	ID              string
	LifeCycleStatus string
	BoundStreamID   string
}

// Stream is the subset of a liveStream resource the monitor reads.
type Stream struct {
	ID     string
	Status string
	Health string
}

// Client issues authenticated requests against the Live Streaming API.
type Client struct {
	http    *http.Client
	baseURL string
	logger  zerolog.Logger
}

// authorizedUserFile mirrors the JSON layout written by the OAuth consent
// tooling on the secondary host.
type authorizedUserFile struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// NewClient loads the OAuth refresh token from tokenPath and returns a
// client whose transport refreshes access tokens on demand.
func NewClient(ctx context.Context, tokenPath string) (*Client, error) {
	data, err := os.ReadFile(tokenPath) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("read oauth token file: %w", err)
	}

	var creds authorizedUserFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse oauth token file %s: %w", tokenPath, err)
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("oauth token file %s has no refresh_token", tokenPath)
	}

	cfg := oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
	httpClient := cfg.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	httpClient.Timeout = 10 * time.Second

	return &Client{
		http:    httpClient,
		baseURL: defaultBaseURL,
		logger:  log.WithComponent("youtube"),
	}, nil
}

// NewClientWithHTTP builds a client over an explicit transport and base URL.
// Used by tests and by deployments with an API-compatible frontend.
func NewClientWithHTTP(h *http.Client, baseURL string) *Client {
	return &Client{
		http:    h,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log.WithComponent("youtube"),
	}
}

// ListBroadcasts fetches the caller's broadcasts filtered by a single
// broadcastStatus value. The API rejects combined status filters, so callers
// issue one request per status.
func (c *Client) ListBroadcasts(ctx context.Context, status string) ([]Broadcast, error) {
	q := url.Values{
		"part":            {"id,contentDetails,status"},
		"mine":            {"true"},
		"broadcastStatus": {status},
		"maxResults":      {"25"},
	}

	var payload struct {
		Items []struct {
			ID     string `json:"id"`
			Status struct {
				LifeCycleStatus string `json:"lifeCycleStatus"`
			} `json:"status"`
			ContentDetails struct {
				BoundStreamID string `json:"boundStreamId"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := c.get(ctx, "/liveBroadcasts", q, &payload); err != nil {
		return nil, err
	}

	out := make([]Broadcast, 0, len(payload.Items))
	for _, item := range payload.Items {
		out = append(out, Broadcast{
			ID:              item.ID,
			LifeCycleStatus: strings.ToLower(item.Status.LifeCycleStatus),
			BoundStreamID:   item.ContentDetails.BoundStreamID,
		})
	}
	return out, nil
}

// Stream resolves a liveStream by id. The second return is false when the
// API knows no such stream.
func (c *Client) Stream(ctx context.Context, id string) (Stream, bool, error) {
	q := url.Values{
		"part": {"id,status,cdn"},
		"id":   {id},
	}

	var payload struct {
		Items []struct {
			ID     string `json:"id"`
			Status struct {
				StreamStatus string `json:"streamStatus"`
				HealthStatus struct {
					Status string `json:"status"`
				} `json:"healthStatus"`
			} `json:"status"`
		} `json:"items"`
	}
	if err := c.get(ctx, "/liveStreams", q, &payload); err != nil {
		return Stream{}, false, err
	}
	if len(payload.Items) == 0 {
		return Stream{}, false, nil
	}
	item := payload.Items[0]
	return Stream{
		ID:     item.ID,
		Status: strings.ToLower(item.Status.StreamStatus),
		Health: strings.ToLower(item.Status.HealthStatus.Status),
	}, true, nil
}

// Transition moves a broadcast toward the target lifecycle state.
func (c *Client) Transition(ctx context.Context, broadcastID, target string) error {
	q := url.Values{
		"part":            {"status"},
		"id":              {broadcastID},
		"broadcastStatus": {target},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/liveBroadcasts/transition?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
