// Package evotalks wraps the remote backup API of an Evotalks instance.
//
// All operations are stateless single requests carrying the instance
// credentials in the body. Ordinary HTTP failure never surfaces as an error:
// each call returns an explicit Status so callers must branch on the outcome
// instead of guessing from a nil payload. There is deliberately no retry or
// backoff; a chat that fails to download is picked up again when the remote
// lists it on a later run.
package evotalks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Status classifies the outcome of a remote call.
type Status int

const (
	// StatusOK means the call succeeded and the payload is usable.
	StatusOK Status = iota
	// StatusUnavailable means the remote answered with a non-2xx status or
	// an unusable body.
	StatusUnavailable
	// StatusNetworkError means the request never completed (DNS, timeout,
	// connection failure).
	StatusNetworkError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "network_error"
	}
}

// Credentials identify one Evotalks instance. They are read fresh from the
// persisted config for every operation.
type Credentials struct {
	APIKey      string
	InstanceURL string // hostname, no scheme
}

// DateRange bounds a closed-chat query, ISO calendar dates inclusive.
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ChatDetail is the remote metadata record for one chat.
type ChatDetail struct {
	ClientName   string `json:"clientName"`
	ClientNumber string `json:"clientNumber"`
	ClientID     string `json:"clientId"`
	BeginTime    string `json:"beginTime"`
	EndTime      string `json:"endTime"`
	Status       string `json:"status"`
}

// CleaningInfo describes an upcoming remote retention purge.
type CleaningInfo struct {
	Scheduled bool `json:"scheduled"`
	FirstID   int  `json:"firstId"`
	LastID    int  `json:"lastId"`
}

// BundleOptions select the backup bundle shape.
type BundleOptions struct {
	AsJSON       bool // structured document bundle (backupChatAsJson)
	IncludeFiles bool // bundle attachments alongside the document
}

// ChatIDsResult is the outcome of ListClosedChats.
type ChatIDsResult struct {
	Status Status
	IDs    []int
}

// BundleResult is the outcome of FetchChatBackup.
type BundleResult struct {
	Status Status
	Data   []byte
}

// DetailResult is the outcome of FetchChatDetail.
type DetailResult struct {
	Status Status
	Detail *ChatDetail
}

// CleaningResult is the outcome of FetchCleaningInfo.
type CleaningResult struct {
	Status Status
	Info   *CleaningInfo
}

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues the remote backup operations.
type Client struct {
	httpClient HTTPClient
	logger     zerolog.Logger
}

// NewClient creates a Client with the given per-request timeout.
func NewClient(timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "evotalks").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// ListClosedChats returns the ids of chats closed in the given range, or in
// the remote's default window when rng is nil. Any failure degrades to an
// empty sequence.
func (c *Client) ListClosedChats(ctx context.Context, creds Credentials, rng *DateRange) ChatIDsResult {
	payload := map[string]any{"apiKey": creds.APIKey}
	if rng != nil {
		payload["startDate"] = rng.StartDate
		payload["endDate"] = rng.EndDate
	}

	body, status := c.post(ctx, creds, "getAllChatsClosedYesterday", payload)
	if status != StatusOK {
		return ChatIDsResult{Status: status}
	}

	var ids []int
	if err := json.Unmarshal(body, &ids); err != nil {
		c.logger.Warn().Err(err).Msg("malformed closed-chat list")
		return ChatIDsResult{Status: StatusUnavailable}
	}
	return ChatIDsResult{Status: StatusOK, IDs: ids}
}

// FetchChatBackup downloads one chat's backup bundle as a raw zip.
func (c *Client) FetchChatBackup(ctx context.Context, creds Credentials, chatID int, opts BundleOptions) BundleResult {
	op := "backupChat"
	payload := map[string]any{"apiKey": creds.APIKey, "id": chatID}
	if opts.AsJSON {
		op = "backupChatAsJson"
		payload["zip"] = true
		payload["includeFiles"] = opts.IncludeFiles
	}

	body, status := c.post(ctx, creds, op, payload)
	if status != StatusOK {
		return BundleResult{Status: status}
	}
	return BundleResult{Status: StatusOK, Data: body}
}

// FetchChatDetail retrieves the remote metadata record for one chat.
func (c *Client) FetchChatDetail(ctx context.Context, creds Credentials, chatID int) DetailResult {
	body, status := c.post(ctx, creds, "getGlobalChatDetail", map[string]any{
		"apiKey": creds.APIKey,
		"chatId": chatID,
	})
	if status != StatusOK {
		return DetailResult{Status: status}
	}

	var detail ChatDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		c.logger.Warn().Err(err).Int("chat_id", chatID).Msg("malformed chat detail")
		return DetailResult{Status: StatusUnavailable}
	}
	return DetailResult{Status: StatusOK, Detail: &detail}
}

// FetchCleaningInfo retrieves the next retention-purge window.
func (c *Client) FetchCleaningInfo(ctx context.Context, creds Credentials) CleaningResult {
	body, status := c.post(ctx, creds, "getNextCleaningInfo", map[string]any{
		"apiKey": creds.APIKey,
	})
	if status != StatusOK {
		return CleaningResult{Status: status}
	}

	var info CleaningInfo
	if err := json.Unmarshal(body, &info); err != nil {
		c.logger.Warn().Err(err).Msg("malformed cleaning info")
		return CleaningResult{Status: StatusUnavailable}
	}
	return CleaningResult{Status: StatusOK, Info: &info}
}

// post executes one operation and reads the full response body.
func (c *Client) post(ctx context.Context, creds Credentials, op string, payload map[string]any) ([]byte, Status) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str("op", op).Msg("encoding request")
		return nil, StatusNetworkError
	}

	url := fmt.Sprintf("https://%s/int/%s", creds.InstanceURL, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		c.logger.Error().Err(err).Str("op", op).Msg("creating request")
		return nil, StatusNetworkError
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("remote call failed")
		return nil, StatusNetworkError
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("op", op).Msg("remote call unavailable")
		return nil, StatusUnavailable
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("reading response body")
		return nil, StatusNetworkError
	}
	return body, StatusOK
}
