package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/livekit/protocol/livekit"

	"github.com/capitalize-ai/voice-configurator/internal/model"
	"github.com/capitalize-ai/voice-configurator/internal/room"
	"github.com/capitalize-ai/voice-configurator/internal/snapshot"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

type fakeRooms struct {
	ensured []string
	deleted []string
	err     error
}

func (f *fakeRooms) EnsureRoom(ctx context.Context, name, metadata string) (*livekit.Room, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ensured = append(f.ensured, name)
	return &livekit.Room{Name: name}, nil
}

func (f *fakeRooms) Delete(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

type fakeTokens struct{}

func (fakeTokens) ParticipantToken(roomName, identity string) (string, error) {
	return roomName + "|" + identity, nil
}

type fakeJobs struct {
	published []model.DispatchJob
	history   []model.DispatchJob
	err       error
}

func (f *fakeJobs) PublishDispatch(ctx context.Context, job *model.DispatchJob) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.published = append(f.published, *job)
	return uint64(len(f.published)), nil
}

func (f *fakeJobs) DispatchHistory(ctx context.Context, room string, limit int) ([]model.DispatchJob, error) {
	return f.history, nil
}

func newDispatch(rooms *fakeRooms, jobs *fakeJobs, store snapshot.Store) *DispatchService {
	return NewDispatchService(rooms, fakeTokens{}, jobs, store, DispatchConfig{
		LiveKitURL: "wss://media.example.com",
		AgentName:  "configurator",
	}, logger.NewNop())
}

func TestDispatchService_Join(t *testing.T) {
	rooms := &fakeRooms{}
	jobs := &fakeJobs{}
	svc := newDispatch(rooms, jobs, nil)

	resp, err := svc.Join(context.Background(), &model.JoinRequest{Metadata: `{"name":"Table"}`})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	if !strings.HasPrefix(resp.RoomName, "room-") {
		t.Fatalf("room name=%q", resp.RoomName)
	}
	if resp.LiveKitURL != "wss://media.example.com" {
		t.Fatalf("livekit url=%q", resp.LiveKitURL)
	}
	if !strings.HasPrefix(resp.Token, resp.RoomName+"|user-") {
		t.Fatalf("token=%q", resp.Token)
	}
	if len(rooms.ensured) != 1 || rooms.ensured[0] != resp.RoomName {
		t.Fatalf("ensured=%v", rooms.ensured)
	}
	if len(jobs.published) != 1 {
		t.Fatalf("published=%d, want 1", len(jobs.published))
	}
	job := jobs.published[0]
	if job.Room != resp.RoomName || job.AgentName != "configurator" || job.Metadata != `{"name":"Table"}` || job.ID == "" {
		t.Fatalf("job=%+v", job)
	}

	list, err := svc.ListDispatches(context.Background(), resp.RoomName)
	if err != nil {
		t.Fatalf("ListDispatches: %v", err)
	}
	if list.Total != 1 || list.Dispatches[0].ID != job.ID {
		t.Fatalf("list=%+v", list)
	}
}

func TestDispatchService_JoinErrors(t *testing.T) {
	provisioning := &fakeRooms{err: room.ErrProvisioning}
	_, err := newDispatch(provisioning, &fakeJobs{}, nil).Join(context.Background(), &model.JoinRequest{})
	if !errors.Is(err, room.ErrProvisioning) {
		t.Fatalf("err=%v, want ErrProvisioning", err)
	}

	rooms := &fakeRooms{}
	jobs := &fakeJobs{err: errors.New("nats down")}
	_, err = newDispatch(rooms, jobs, nil).Join(context.Background(), &model.JoinRequest{})
	if err == nil || errors.Is(err, room.ErrProvisioning) {
		t.Fatalf("err=%v, want publish failure", err)
	}
	if len(rooms.deleted) != 1 || rooms.deleted[0] != rooms.ensured[0] {
		t.Fatalf("deleted=%v, want the undispatched room %v", rooms.deleted, rooms.ensured)
	}
}

func TestDispatchService_ListFallsBackToHistory(t *testing.T) {
	jobs := &fakeJobs{history: []model.DispatchJob{{ID: "j1", Room: "room-x"}}}
	svc := newDispatch(&fakeRooms{}, jobs, nil)

	list, err := svc.ListDispatches(context.Background(), "room-x")
	if err != nil {
		t.Fatalf("ListDispatches: %v", err)
	}
	if list.Total != 1 || list.Dispatches[0].ID != "j1" {
		t.Fatalf("list=%+v", list)
	}

	empty, err := newDispatch(&fakeRooms{}, &fakeJobs{}, nil).ListDispatches(context.Background(), "room-y")
	if err != nil {
		t.Fatalf("ListDispatches: %v", err)
	}
	if empty.Dispatches == nil || empty.Total != 0 {
		t.Fatalf("empty=%+v", empty)
	}
}

func TestDispatchService_Configuration(t *testing.T) {
	store := snapshot.NewMemoryStore()
	svc := newDispatch(&fakeRooms{}, &fakeJobs{}, store)
	ctx := context.Background()

	if _, err := svc.Configuration(ctx, "room-1"); !errors.Is(err, ErrNoConfiguration) {
		t.Fatalf("err=%v, want ErrNoConfiguration", err)
	}

	doc := model.NewDocument(model.DefaultProduct())
	if err := store.Save(ctx, &model.Snapshot{Room: "room-1", State: model.StateConfiguring, Document: doc, Version: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := svc.Configuration(ctx, "room-1")
	if err != nil {
		t.Fatalf("Configuration: %v", err)
	}
	if snap.State != model.StateConfiguring || snap.Document.ProductName != doc.ProductName {
		t.Fatalf("snap=%+v", snap)
	}

	if _, err := newDispatch(&fakeRooms{}, &fakeJobs{}, nil).Configuration(ctx, "room-1"); !errors.Is(err, ErrNoConfiguration) {
		t.Fatalf("nil store: err=%v", err)
	}
}

func TestSessionTracker(t *testing.T) {
	tracker := NewSessionTracker()
	var cancelled atomic.Int32
	now := time.Now()

	unregA := tracker.Register("room-a", SessionHandle{
		Cancel: func() { cancelled.Add(1) },
		Info: func() model.SessionInfo {
			return model.SessionInfo{Room: "room-a", State: model.StateConfiguring, StartedAt: now.Add(time.Second)}
		},
	})
	unregB := tracker.Register("room-b", SessionHandle{
		Cancel: func() { cancelled.Add(1) },
		Info: func() model.SessionInfo {
			return model.SessionInfo{Room: "room-b", State: model.StateAwaitingConsent, StartedAt: now}
		},
	})

	if tracker.Count() != 2 {
		t.Fatalf("count=%d, want 2", tracker.Count())
	}
	active := tracker.Active()
	if len(active) != 2 || active[0].Room != "room-b" || active[1].Room != "room-a" {
		t.Fatalf("active=%+v", active)
	}

	if n := tracker.CancelAll(); n != 2 || cancelled.Load() != 2 {
		t.Fatalf("cancelled=%d/%d", n, cancelled.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tracker.Wait(ctx) {
		t.Fatalf("Wait returned true with sessions registered")
	}

	unregA()
	unregA()
	unregB()

	if !tracker.Wait(context.Background()) {
		t.Fatalf("Wait returned false after unregister")
	}
	if tracker.Count() != 0 {
		t.Fatalf("count=%d, want 0", tracker.Count())
	}
}

func TestSessionTracker_ReplaceSameRoom(t *testing.T) {
	tracker := NewSessionTracker()
	first := tracker.Register("room-a", SessionHandle{})
	second := tracker.Register("room-a", SessionHandle{})

	if tracker.Count() != 1 {
		t.Fatalf("count=%d, want 1", tracker.Count())
	}

	// The replaced session's unregister must not remove the new one.
	first()
	if tracker.Count() != 1 {
		t.Fatalf("count=%d after stale unregister, want 1", tracker.Count())
	}
	second()
	if !tracker.Wait(context.Background()) {
		t.Fatalf("Wait returned false")
	}
}

func TestSessionTracker_Claim(t *testing.T) {
	tracker := NewSessionTracker()

	release, ok := tracker.Claim("room-a", SessionHandle{})
	if !ok {
		t.Fatalf("first claim refused")
	}
	if _, ok := tracker.Claim("room-a", SessionHandle{}); ok {
		t.Fatalf("second claim for the same room accepted")
	}
	if tracker.Count() != 1 {
		t.Fatalf("count=%d, want 1", tracker.Count())
	}

	release()
	again, ok := tracker.Claim("room-a", SessionHandle{})
	if !ok {
		t.Fatalf("claim after release refused")
	}
	again()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !tracker.Wait(ctx) {
		t.Fatalf("Wait did not observe released claims")
	}
}
