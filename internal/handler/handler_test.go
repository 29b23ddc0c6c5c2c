package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/internal/room"
	"github.com/capitalize-ai/voice-configurator/internal/service"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

type fakeDispatcher struct {
	joinErr   error
	listErr   error
	snapshots map[string]*model.Snapshot
	joined    []model.JoinRequest
}

func (f *fakeDispatcher) Join(ctx context.Context, req *model.JoinRequest) (*model.JoinResponse, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	f.joined = append(f.joined, *req)
	return &model.JoinResponse{Token: "tok", LiveKitURL: "wss://media.example.com", RoomName: "room-1"}, nil
}

func (f *fakeDispatcher) ListDispatches(ctx context.Context, roomName string) (*model.ListDispatchesResponse, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &model.ListDispatchesResponse{
		Room:       roomName,
		Dispatches: []model.DispatchJob{{ID: "job-1", Room: roomName, AgentName: "configurator"}},
		Total:      1,
	}, nil
}

func (f *fakeDispatcher) Configuration(ctx context.Context, roomName string) (*model.Snapshot, error) {
	if snap, ok := f.snapshots[roomName]; ok {
		return snap, nil
	}
	return nil, service.ErrNoConfiguration
}

func newRouter(d Dispatcher, feed EventFeed) http.Handler {
	h := NewDispatchHandler(d, logger.NewNop())
	ev := NewEventsHandler(feed, d, logger.NewNop())
	ev.heartbeat = time.Hour

	r := chi.NewRouter()
	r.Post("/api/join", h.Join)
	r.Get("/api/agents", h.ListAgents)
	r.Get("/api/rooms/{room}/configuration", h.Configuration)
	r.Get("/api/rooms/{room}/events", ev.Stream)
	return r
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"ok", `{"metadata":"{\"name\":\"Table\"}"}`, nil, http.StatusOK},
		{"empty metadata", `{}`, nil, http.StatusOK},
		{"empty body", ``, nil, http.StatusOK},
		{"bad body", `{`, nil, http.StatusBadRequest},
		{"provisioning", `{}`, fmt.Errorf("%w: list rooms: timeout", room.ErrProvisioning), http.StatusBadGateway},
		{"other", `{}`, errors.New("nats down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{joinErr: tt.err}
			rec := httptest.NewRecorder()
			newRouter(d, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/join", strings.NewReader(tt.body)))

			if rec.Code != tt.status {
				t.Fatalf("status=%d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["token"] != "tok" || resp["livekitUrl"] != "wss://media.example.com" || resp["roomName"] != "room-1" {
				t.Fatalf("resp=%v", resp)
			}
		})
	}
}

func TestListAgents(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakeDispatcher{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents?room_name=room-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp model.ListDispatchesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Dispatches[0].Room != "room-1" {
		t.Fatalf("resp=%+v", resp)
	}

	rec = httptest.NewRecorder()
	newRouter(&fakeDispatcher{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing room: status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newRouter(&fakeDispatcher{listErr: errors.New("boom")}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents?room_name=room-1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("list error: status=%d", rec.Code)
	}
}

func TestConfiguration(t *testing.T) {
	d := &fakeDispatcher{snapshots: map[string]*model.Snapshot{
		"room-1": {Room: "room-1", State: model.StateConfiguring, Document: model.NewDocument(model.DefaultProduct()), Version: 2},
	}}
	router := newRouter(d, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/room-1/configuration", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"configuring"`) {
		t.Fatalf("body=%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/room-2/configuration", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", rec.Code)
	}
}

type fakeFeed struct {
	mu      sync.Mutex
	handler func([]byte)
	stopped bool
	err     error
}

func (f *fakeFeed) WatchEvents(ctx context.Context, roomName string, handler func(payload []byte)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeFeed) emit(payload string) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h([]byte(payload))
	return true
}

func TestEventsStream(t *testing.T) {
	d := &fakeDispatcher{snapshots: map[string]*model.Snapshot{
		"room-1": {Room: "room-1", State: model.StateConfiguring, Version: 1},
	}}
	feed := &fakeFeed{}
	srv := httptest.NewServer(newRouter(d, feed))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/rooms/room-1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content-type=%q", resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	next := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}

	if ev := next(); ev != "connected" {
		t.Fatalf("first event=%q", ev)
	}
	if ev := next(); ev != "snapshot" {
		t.Fatalf("second event=%q", ev)
	}

	go func() {
		for !feed.emit(`{"type":"config:update","items_configured":{"uniqueId":"p1","name":"material","value":"oak"}}`) {
			time.Sleep(5 * time.Millisecond)
		}
	}()
	if ev := next(); ev != "config:update" {
		t.Fatalf("live event=%q", ev)
	}
}

func TestEventsStream_FeedUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakeDispatcher{}, &fakeFeed{err: errors.New("no stream")}).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/rooms/room-1/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
}

type connState bool

func (c connState) IsConnected() bool { return bool(c) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		checker ConnectionChecker
		path    string
		status  int
	}{
		{"health", nil, "/health", http.StatusOK},
		{"ready without queue", nil, "/ready", http.StatusServiceUnavailable},
		{"ready disconnected", connState(false), "/ready", http.StatusServiceUnavailable},
		{"ready", connState(true), "/ready", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checker)
			r := chi.NewRouter()
			r.Get("/health", h.Health)
			r.Get("/ready", h.Ready)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("status=%d, want %d", rec.Code, tt.status)
			}
		})
	}
}
