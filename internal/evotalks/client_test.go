package evotalks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockHTTP records the last request and returns a canned response.
type mockHTTP struct {
	lastReq  *http.Request
	lastBody []byte
	status   int
	body     string
	err      error
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	if req.Body != nil {
		m.lastBody, _ = io.ReadAll(req.Body)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(m.body))),
	}, nil
}

func newTestClient(m *mockHTTP) *Client {
	c := NewClient(time.Second, zerolog.Nop())
	c.SetHTTPClient(m)
	return c
}

var testCreds = Credentials{APIKey: "key-123", InstanceURL: "acme.evotalks.com.br"}

func decodePayload(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	return payload
}

func TestListClosedChats(t *testing.T) {
	m := &mockHTTP{status: 200, body: "[101, 102, 103]"}
	c := newTestClient(m)

	res := c.ListClosedChats(context.Background(), testCreds, &DateRange{StartDate: "2025-03-09", EndDate: "2025-03-10"})
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %v", res.Status)
	}
	if len(res.IDs) != 3 || res.IDs[0] != 101 {
		t.Errorf("unexpected ids: %v", res.IDs)
	}

	if got := m.lastReq.URL.String(); got != "https://acme.evotalks.com.br/int/getAllChatsClosedYesterday" {
		t.Errorf("unexpected url: %s", got)
	}
	payload := decodePayload(t, m.lastBody)
	if payload["apiKey"] != "key-123" || payload["startDate"] != "2025-03-09" || payload["endDate"] != "2025-03-10" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestListClosedChatsDefaultWindow(t *testing.T) {
	m := &mockHTTP{status: 200, body: "[]"}
	c := newTestClient(m)

	res := c.ListClosedChats(context.Background(), testCreds, nil)
	if res.Status != StatusOK || len(res.IDs) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	payload := decodePayload(t, m.lastBody)
	if _, ok := payload["startDate"]; ok {
		t.Error("nil range must not send startDate")
	}
}

func TestListClosedChatsMalformedBody(t *testing.T) {
	m := &mockHTTP{status: 200, body: `{"oops": true}`}
	c := newTestClient(m)

	res := c.ListClosedChats(context.Background(), testCreds, nil)
	if res.Status != StatusUnavailable {
		t.Errorf("expected unavailable for malformed body, got %v", res.Status)
	}
}

func TestStatusMapping(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		c := newTestClient(&mockHTTP{status: 500, body: "boom"})
		if res := c.ListClosedChats(context.Background(), testCreds, nil); res.Status != StatusUnavailable {
			t.Errorf("expected unavailable, got %v", res.Status)
		}
	})
	t.Run("transport failure", func(t *testing.T) {
		c := newTestClient(&mockHTTP{err: errors.New("connection refused")})
		if res := c.ListClosedChats(context.Background(), testCreds, nil); res.Status != StatusNetworkError {
			t.Errorf("expected network_error, got %v", res.Status)
		}
	})
}

func TestFetchChatBackupLegacy(t *testing.T) {
	m := &mockHTTP{status: 200, body: "PK\x03\x04raw-zip-bytes"}
	c := newTestClient(m)

	res := c.FetchChatBackup(context.Background(), testCreds, 55, BundleOptions{})
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %v", res.Status)
	}
	if string(res.Data) != "PK\x03\x04raw-zip-bytes" {
		t.Error("raw bundle bytes must pass through untouched")
	}

	if got := m.lastReq.URL.Path; got != "/int/backupChat" {
		t.Errorf("unexpected operation path: %s", got)
	}
	payload := decodePayload(t, m.lastBody)
	if payload["id"] != float64(55) {
		t.Errorf("unexpected payload: %v", payload)
	}
	if _, ok := payload["zip"]; ok {
		t.Error("legacy bundle must not request the structured form")
	}
}

func TestFetchChatBackupStructured(t *testing.T) {
	m := &mockHTTP{status: 200, body: "zipped"}
	c := newTestClient(m)

	res := c.FetchChatBackup(context.Background(), testCreds, 56, BundleOptions{AsJSON: true, IncludeFiles: true})
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %v", res.Status)
	}

	if got := m.lastReq.URL.Path; got != "/int/backupChatAsJson" {
		t.Errorf("unexpected operation path: %s", got)
	}
	payload := decodePayload(t, m.lastBody)
	if payload["zip"] != true || payload["includeFiles"] != true {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestFetchChatDetail(t *testing.T) {
	m := &mockHTTP{status: 200, body: `{"clientName": "Maria", "clientNumber": "+55 11 9", "status": "closed"}`}
	c := newTestClient(m)

	res := c.FetchChatDetail(context.Background(), testCreds, 7)
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %v", res.Status)
	}
	if res.Detail.ClientName != "Maria" || res.Detail.Status != "closed" {
		t.Errorf("unexpected detail: %+v", res.Detail)
	}

	payload := decodePayload(t, m.lastBody)
	if payload["chatId"] != float64(7) {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestFetchCleaningInfo(t *testing.T) {
	m := &mockHTTP{status: 200, body: `{"scheduled": true, "firstId": 100, "lastId": 250}`}
	c := newTestClient(m)

	res := c.FetchCleaningInfo(context.Background(), testCreds)
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %v", res.Status)
	}
	if !res.Info.Scheduled || res.Info.FirstID != 100 || res.Info.LastID != 250 {
		t.Errorf("unexpected info: %+v", res.Info)
	}
	if got := m.lastReq.URL.Path; got != "/int/getNextCleaningInfo" {
		t.Errorf("unexpected operation path: %s", got)
	}
}

func TestRequestShape(t *testing.T) {
	m := &mockHTTP{status: 200, body: "{}"}
	c := newTestClient(m)

	c.FetchCleaningInfo(context.Background(), testCreds)

	if m.lastReq.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", m.lastReq.Method)
	}
	if ct := m.lastReq.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type: %s", ct)
	}
	if m.lastReq.URL.Scheme != "https" {
		t.Errorf("remote calls must use https, got %s", m.lastReq.URL.Scheme)
	}
}
