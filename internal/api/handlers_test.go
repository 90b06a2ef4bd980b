package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/sms"
	"github.com/myhometown/textline/internal/store"
	"github.com/myhometown/textline/pkg/codes"
)

type fakeBatchSender struct {
	mu      sync.Mutex
	calls   int
	lastReq struct {
		batchID string
		message string
		recs    []sms.Recipient
	}
	summary *sms.BatchSummary
	err     error
}

func (f *fakeBatchSender) Send(_ context.Context, batchID, message string, recipients []sms.Recipient, _ []string) (*sms.BatchSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq.batchID = batchID
	f.lastReq.message = message
	f.lastReq.recs = recipients
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type fakeDispatcher struct {
	result *sms.DispatchResult
	err    error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, scheduleID uuid.UUID) (*sms.DispatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.ID = scheduleID
	return &res, nil
}

type fakeApplier struct {
	mu      sync.Mutex
	updates []carrier.StatusUpdate
	err     error
}

func (f *fakeApplier) Apply(_ context.Context, update carrier.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return f.err
}

func newTestRouter(sender BatchSender, dispatcher ScheduledDispatcher, monitor *sms.StreamMonitor, updater StatusApplier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if monitor == nil {
		monitor = sms.NewStreamMonitor(sms.StreamMonitorConfig{})
	}
	SetupRoutes(router, sender, dispatcher, monitor, updater)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendTexts_Success(t *testing.T) {
	t.Parallel()

	sender := &fakeBatchSender{summary: &sms.BatchSummary{Total: 2, Successful: 2}}
	router := newTestRouter(sender, &fakeDispatcher{}, nil, &fakeApplier{})

	logID := uuid.New().String()
	w := doJSON(t, router, http.MethodPost, "/api/v1/send-texts?batchId=batch-9", gin.H{
		"message": "Hello",
		"recipients": []gin.H{
			{"name": "A", "phone": "5555550100", "logId": logID},
			{"name": "B", "phone": "5555550101"},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool             `json:"success"`
		BatchID string           `json:"batchId"`
		Summary sms.BatchSummary `json:"summary"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.BatchID != "batch-9" || resp.Summary.Total != 2 {
		t.Errorf("response = %+v", resp)
	}

	if sender.lastReq.batchID != "batch-9" {
		t.Errorf("batchID passed = %s", sender.lastReq.batchID)
	}
	if len(sender.lastReq.recs) != 2 {
		t.Fatalf("recipients passed = %d", len(sender.lastReq.recs))
	}
	if !sender.lastReq.recs[0].Durable() || sender.lastReq.recs[1].Durable() {
		t.Error("durability flags not derived from logId presence")
	}
}

func TestSendTexts_BadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		body gin.H
	}{
		{"missing batchId", "/api/v1/send-texts", gin.H{"message": "Hello", "recipients": []gin.H{{"phone": "5555550100"}}}},
		{"missing message", "/api/v1/send-texts?batchId=b1", gin.H{"recipients": []gin.H{{"phone": "5555550100"}}}},
		{"no recipients", "/api/v1/send-texts?batchId=b1", gin.H{"message": "Hello"}},
		{"malformed logId", "/api/v1/send-texts?batchId=b1", gin.H{"message": "Hello", "recipients": []gin.H{{"phone": "5555550100", "logId": "not-a-uuid"}}}},
	}

	sender := &fakeBatchSender{summary: &sms.BatchSummary{}}
	router := newTestRouter(sender, &fakeDispatcher{}, nil, &fakeApplier{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, tc.path, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if sender.calls != 0 {
		t.Errorf("sender called %d times on invalid input", sender.calls)
	}
}

func TestSendTexts_AuthFailureIs500(t *testing.T) {
	t.Parallel()

	sender := &fakeBatchSender{err: &carrier.AuthError{StatusCode: 401, Message: "nope"}}
	router := newTestRouter(sender, &fakeDispatcher{}, nil, &fakeApplier{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/send-texts?batchId=b1", gin.H{
		"message":    "Hello",
		"recipients": []gin.H{{"phone": "5555550100"}},
	})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSendScheduled(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		dispatcher := &fakeDispatcher{result: &sms.DispatchResult{
			Success:        true,
			MessageGroupID: uuid.New(),
			Results:        []sms.SendOutcome{{Status: codes.StatusSent}, {Status: codes.StatusSent}},
			Deleted:        true,
			LogsCreated:    2,
		}}
		router := newTestRouter(&fakeBatchSender{}, dispatcher, nil, &fakeApplier{})

		w := doJSON(t, router, http.MethodPost, "/api/v1/scheduled-texts/send", gin.H{"id": uuid.New().String()})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
		}
		var resp struct {
			Success     bool   `json:"success"`
			LogsCreated int    `json:"logsCreated"`
			Deleted     bool   `json:"deleted"`
			Timestamp   string `json:"timestamp"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !resp.Success || resp.LogsCreated != 2 || !resp.Deleted || resp.Timestamp == "" {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&fakeBatchSender{}, &fakeDispatcher{}, nil, &fakeApplier{})
		w := doJSON(t, router, http.MethodPost, "/api/v1/scheduled-texts/send", gin.H{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		dispatcher := &fakeDispatcher{err: store.ErrNotFound}
		router := newTestRouter(&fakeBatchSender{}, dispatcher, nil, &fakeApplier{})
		w := doJSON(t, router, http.MethodPost, "/api/v1/scheduled-texts/send", gin.H{"id": uuid.New().String()})
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func TestMonitorEndpoints(t *testing.T) {
	t.Parallel()

	monitor := sms.NewStreamMonitor(sms.StreamMonitorConfig{})
	_, cancel := monitor.Track(context.Background(), "msg-1")
	defer cancel()
	router := newTestRouter(&fakeBatchSender{}, &fakeDispatcher{}, monitor, &fakeApplier{})

	w := doJSON(t, router, http.MethodGet, "/api/v1/monitor", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var snapshot struct {
		ActiveStreams int    `json:"activeStreams"`
		Health        string `json:"health"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.ActiveStreams != 1 || snapshot.Health != "healthy" {
		t.Errorf("snapshot = %+v", snapshot)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/monitor", gin.H{"action": "cleanup-orphaned"})
	if w.Code != http.StatusOK {
		t.Errorf("POST status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/monitor", gin.H{"action": "self-destruct"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", w.Code)
	}
}

func TestStatusCallback(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{}
	router := newTestRouter(&fakeBatchSender{}, &fakeDispatcher{}, nil, applier)

	form := url.Values{}
	form.Set("MessageSid", "SM42")
	form.Set("MessageStatus", "delivered")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carrier/status-callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if len(applier.updates) != 1 {
		t.Fatalf("applied updates = %d, want 1", len(applier.updates))
	}
	got := applier.updates[0]
	if got.CarrierMessageID != "SM42" || got.Status != codes.StatusDelivered {
		t.Errorf("update = %+v", got)
	}

	// Missing fields are the carrier's bug, not ours; reject without apply.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/carrier/status-callback", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty callback status = %d, want 400", w.Code)
	}
	if len(applier.updates) != 1 {
		t.Errorf("applied updates = %d after invalid callback", len(applier.updates))
	}
}
