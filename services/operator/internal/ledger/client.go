package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"log/slog"
)

const (
	queryPath   = "/v1/query"
	commandPath = "/v1/commands"

	defaultHTTPTimeout = 30 * time.Second
)

// Record is one versioned entry in the ledger's active set.
type Record struct {
	RecordID        string          `json:"recordId"`
	TemplateID      string          `json:"templateId"`
	CreateArguments json.RawMessage `json:"createArguments"`
}

// OwnerFilter narrows a query to templates visible to one owner.
type OwnerFilter struct {
	IncludeTemplates []string `json:"includeTemplates"`
}

// QueryFilter selects active records either by owner/template or by an
// explicit batch of record ids.
type QueryFilter struct {
	ByOwner map[string]OwnerFilter `json:"byOwner,omitempty"`
	Records []string               `json:"records,omitempty"`
}

type queryRequest struct {
	AsOfOffset string      `json:"asOfOffset,omitempty"`
	Filter     QueryFilter `json:"filter"`
}

type queryResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

// Action is one step of an atomic command.
type Action struct {
	Kind       string `json:"kind"`
	TemplateID string `json:"templateId"`
	RecordID   string `json:"recordId,omitempty"`
	Choice     string `json:"choice,omitempty"`
	Argument   any    `json:"argument,omitempty"`
}

type commandRequest struct {
	CommandID string   `json:"commandId"`
	Actions   []Action `json:"actions"`
	ActingAs  []string `json:"actingAs"`
}

// SubmitResult is the ledger's acknowledgement of an accepted command.
type SubmitResult struct {
	UpdateID         string            `json:"updateId"`
	CompletionOffset string            `json:"completionOffset"`
	Events           []json.RawMessage `json:"events,omitempty"`
}

// RejectionError carries the ledger's reason string verbatim. The client does
// not interpret it beyond status classification.
type RejectionError struct {
	Status int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("ledger rejected command (status %d): %s", e.Status, e.Reason)
}

// IsConflict reports whether the ledger classified the command as
// conflicting or already applied. Callers re-check state instead of
// retrying blindly.
func IsConflict(err error) bool {
	var rej *RejectionError
	if !errors.As(err, &rej) {
		return false
	}
	return rej.Status == http.StatusConflict || rej.Status == http.StatusBadRequest
}

// Client issues snapshot queries and atomic commands against the external
// ledger. It is stateless except for the cached authorization credential.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	creds         *CredentialCache
	logger        *slog.Logger
	submitTimeout time.Duration
}

func NewClient(baseURL string, creds *CredentialCache, submitTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if submitTimeout <= 0 {
		submitTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		creds:         creds,
		logger:        logger,
		submitTimeout: submitTimeout,
	}
}

// Query reads all currently active records matching the filter at the
// current ledger end. Transient discovery failures degrade to an empty
// result: the caller's next cycle or next call re-reads state anyway.
func (c *Client) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	return c.QueryAt(ctx, "", filter)
}

// Ping verifies the operator can authenticate and reach the ledger. Unlike
// Query it surfaces the underlying failure, so readiness probes can gate on
// it instead of the degrading read path.
func (c *Client) Ping(ctx context.Context) error {
	status, err := c.doJSON(ctx, queryPath, queryRequest{Filter: QueryFilter{}}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("ledger ping returned status %d", status)
	}
	return nil
}

// QueryAt reads at an explicit offset so multiple reads in one cycle observe
// a consistent snapshot.
func (c *Client) QueryAt(ctx context.Context, asOfOffset string, filter QueryFilter) ([]Record, error) {
	var resp queryResponse
	status, err := c.doJSON(ctx, queryPath, queryRequest{AsOfOffset: asOfOffset, Filter: filter}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("ledger query failed, degrading to empty result", "error", err)
		return []Record{}, nil
	}
	if status != http.StatusOK {
		c.logger.Warn("ledger query returned unexpected status, degrading to empty result", "status", status)
		return []Record{}, nil
	}
	return resp.Records, nil
}

// Submit executes one atomic state transition. commandID is the ledger's
// deduplication key and must be fresh per attempt; callers never reuse an id
// for a retry.
func (c *Client) Submit(ctx context.Context, commandID string, actions []Action, actingAs []string) (*SubmitResult, error) {
	if commandID == "" {
		return nil, fmt.Errorf("command id required")
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("at least one action required")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
	}

	var result SubmitResult
	status, err := c.doJSON(ctx, commandPath, commandRequest{CommandID: commandID, Actions: actions, ActingAs: actingAs}, &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		// doJSON surfaces the body reason for non-OK statuses via error.
		return nil, fmt.Errorf("ledger command returned status %d", status)
	}
	return &result, nil
}

// doJSON posts a payload and decodes the response. Authorization failures
// invalidate the cached credential and retry exactly once with a fresh one.
func (c *Client) doJSON(ctx context.Context, path string, payload any, out any) (int, error) {
	status, body, err := c.post(ctx, path, payload)
	if err != nil {
		return 0, err
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.logger.Info("ledger reported stale credential, refreshing", "status", status)
		c.creds.Invalidate()
		status, body, err = c.post(ctx, path, payload)
		if err != nil {
			return 0, err
		}
	}

	if status >= http.StatusBadRequest {
		return status, &RejectionError{Status: status, Reason: reasonFromBody(body)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return status, fmt.Errorf("decode ledger response: %w", err)
		}
	}
	return status, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	token, err := c.creds.Get(ctx)
	if err != nil {
		return 0, nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read ledger response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func reasonFromBody(body []byte) string {
	var structured struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &structured); err == nil && structured.Error != "" {
		return structured.Error
	}
	return string(body)
}
