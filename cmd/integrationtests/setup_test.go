package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	bidding "live-auction/internal/biddingService"
	model "live-auction/internal/models"
	"live-auction/internal/notify"
	"live-auction/internal/realtime"
	"live-auction/internal/repository"
	"live-auction/internal/server"

	"github.com/gin-gonic/gin"
)

const adminID = "admin"

// recordingSink keeps every outbid message the dispatcher delivered
type recordingSink struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (s *recordingSink) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.UserID)
	}
	return out
}

// testStack is the full application wired on the in-memory store
type testStack struct {
	router     *gin.Engine
	hub        *realtime.Hub
	sink       *recordingSink
	dispatcher *notify.Dispatcher
}

// SetupTestStack initializes the router, hub and notifier with an in-memory repository.
func SetupTestStack(t *testing.T, opts ...bidding.Option) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sink := &recordingSink{}
	dispatcher := notify.NewDispatcher(sink, notify.Config{Workers: 1, QueueSize: 64})
	t.Cleanup(func() { _ = dispatcher.Close() })

	hub := realtime.NewHub(0)
	opts = append([]bidding.Option{
		bidding.WithPublisher(hub),
		bidding.WithNotifier(dispatcher),
		bidding.WithLotURLBase("https://auction.example"),
	}, opts...)
	service := bidding.NewBiddingService(repository.NewMemoryRepo(), opts...)

	router := server.SetupRouter(service, server.Options{
		IsAdmin:   func(userID string) bool { return userID == adminID },
		WebSocket: realtime.NewWSHandler(hub, service.GetLot, func(*http.Request) bool { return true }),
	})
	return &testStack{router: router, hub: hub, sink: sink, dispatcher: dispatcher}
}

// ExecuteRequestAndParse executes an HTTP request as userID and parses the response envelope
func ExecuteRequestAndParse(t *testing.T, router http.Handler, method, url, userID string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(server.HeaderUserID, userID)
		req.Header.Set(server.HeaderUserName, userID)
	}
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}
	return resp, w
}

// CreateLot creates a lot through the admin API and returns it
func (s *testStack) CreateLot(t *testing.T, title string, startPrice, step, minutes int64) model.Lot {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, s.router, http.MethodPost, "/admin/lots", adminID, map[string]any{
		"title":            title,
		"start_price":      startPrice,
		"bid_step":         step,
		"duration_minutes": minutes,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create lot: status %d, body %s", w.Code, w.Body.String())
	}

	raw, _ := json.Marshal(resp["data"])
	var lot model.Lot
	if err := json.Unmarshal(raw, &lot); err != nil {
		t.Fatalf("failed to decode lot: %v", err)
	}
	return lot
}
