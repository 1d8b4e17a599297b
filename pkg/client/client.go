package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rhinehart514/hivesync/pkg/engine"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// DefaultTimeout bounds ordinary request round-trips. Watch streams are
// exempt; they run on a timeout-free client sharing the same transport.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsInvalidInput reports whether err is a 400 from the server.
func IsInvalidInput(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest
}

// Client talks to one synchronization server.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	user    string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout for non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithUser names the caller via the X-User-ID header. Only honored by
// servers running with auth.allowUserHeader.
func WithUser(userID string) Option {
	return func(c *Client) { c.user = userID }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
}

// do runs one JSON round-trip. A non-2xx status is decoded into an APIError;
// a 2xx body is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// SubmitOptions carries everything a submit request accepts beyond the tool
// ID.
type SubmitOptions struct {
	DeploymentID     string           `json:"deploymentId,omitempty"`
	SpaceID          string           `json:"spaceId,omitempty"`
	UpdateType       types.UpdateType `json:"updateType"`
	EventData        types.EventData  `json:"eventData"`
	TargetUsers      []string         `json:"targetUsers,omitempty"`
	BroadcastToSpace *bool            `json:"broadcastToSpace,omitempty"`
	RequiresAck      bool             `json:"requiresAck,omitempty"`
	ExpiresInMinutes int              `json:"expiresInMinutes,omitempty"`
}

// SubmitUpdate submits one state update for sequencing.
func (c *Client) SubmitUpdate(ctx context.Context, toolID string, opts SubmitOptions) (*engine.SubmitResult, error) {
	var result engine.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/v1/tools/"+url.PathEscape(toolID)+"/updates", nil, opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SyncOptions carries a reconciliation request.
type SyncOptions struct {
	DeploymentID       string                 `json:"deploymentId,omitempty"`
	ClientVersion      int64                  `json:"clientVersion"`
	ClientState        map[string]any         `json:"clientState"`
	ConflictResolution types.ConflictStrategy `json:"conflictResolution,omitempty"`
	ForceMerge         bool                   `json:"forceMerge,omitempty"`
}

// Sync reconciles the client's full state against the server's.
func (c *Client) Sync(ctx context.Context, toolID string, opts SyncOptions) (*engine.SyncResult, error) {
	var result engine.SyncResult
	if err := c.do(ctx, http.MethodPost, "/v1/tools/"+url.PathEscape(toolID)+"/sync", nil, opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HistoryOptions selects a window of the update log.
type HistoryOptions struct {
	DeploymentID    string
	Since           time.Time
	Limit           int
	IncludeSnapshot bool
}

// History fetches update events oldest first.
func (c *Client) History(ctx context.Context, toolID string, opts HistoryOptions) (*engine.HistoryResult, error) {
	query := url.Values{}
	if opts.DeploymentID != "" {
		query.Set("deploymentId", opts.DeploymentID)
	}
	if !opts.Since.IsZero() {
		query.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.IncludeSnapshot {
		query.Set("includeSnapshot", "true")
	}

	var result engine.HistoryResult
	if err := c.do(ctx, http.MethodGet, "/v1/tools/"+url.PathEscape(toolID)+"/updates", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SnapshotResult mirrors the snapshot endpoint body.
type SnapshotResult struct {
	Snapshot   *types.StateSnapshot      `json:"snapshot"`
	SyncStatus *engine.SyncStatusSummary `json:"syncStatus"`
}

// Snapshot fetches the current snapshot and status summary. A key that has
// never been written returns a nil Snapshot, not an error.
func (c *Client) Snapshot(ctx context.Context, toolID, deploymentID string) (*SnapshotResult, error) {
	query := url.Values{}
	if deploymentID != "" {
		query.Set("deploymentId", deploymentID)
	}

	var result SnapshotResult
	if err := c.do(ctx, http.MethodGet, "/v1/tools/"+url.PathEscape(toolID)+"/snapshot", query, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RecordAck acknowledges an update as the client's configured user.
func (c *Client) RecordAck(ctx context.Context, toolID, updateID string) (*types.AckTracking, error) {
	var tracking types.AckTracking
	path := "/v1/tools/" + url.PathEscape(toolID) + "/updates/" + url.PathEscape(updateID) + "/ack"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &tracking); err != nil {
		return nil, err
	}
	return &tracking, nil
}

// AckStatus fetches the acknowledgment tracking record for an update.
func (c *Client) AckStatus(ctx context.Context, toolID, updateID string) (*types.AckTracking, error) {
	var tracking types.AckTracking
	path := "/v1/tools/" + url.PathEscape(toolID) + "/updates/" + url.PathEscape(updateID) + "/ack"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &tracking); err != nil {
		return nil, err
	}
	return &tracking, nil
}

// CleanupEvent deletes one update event by ID and returns how many events
// were removed.
func (c *Client) CleanupEvent(ctx context.Context, toolID, updateID string) (int, error) {
	var result engine.CleanupResult
	path := "/v1/tools/" + url.PathEscape(toolID) + "/updates/" + url.PathEscape(updateID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, &result); err != nil {
		return 0, err
	}
	return result.Deleted, nil
}

// CleanupOlderThan deletes every event for the key older than the cutoff.
func (c *Client) CleanupOlderThan(ctx context.Context, toolID, deploymentID string, olderThan time.Time) (int, error) {
	query := url.Values{}
	query.Set("olderThan", olderThan.UTC().Format(time.RFC3339))
	if deploymentID != "" {
		query.Set("deploymentId", deploymentID)
	}

	var result engine.CleanupResult
	if err := c.do(ctx, http.MethodDelete, "/v1/tools/"+url.PathEscape(toolID)+"/updates", query, nil, &result); err != nil {
		return 0, err
	}
	return result.Deleted, nil
}

// HealthStatus mirrors the /health body.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
