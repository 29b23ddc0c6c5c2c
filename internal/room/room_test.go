package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/livekit"

	"github.com/capitalize-ai/voice-configurator/internal/dialog"
)

func TestRouter_RoutesByTopic(t *testing.T) {
	r := NewRouter("agent-1")

	var data, chat []string
	unsubscribe, err := r.SubscribeData(func(p dialog.DataPacket) { data = append(data, string(p.Payload)) })
	if err != nil {
		t.Fatalf("SubscribeData: %v", err)
	}
	r.OnUtterance(func(p dialog.DataPacket) { chat = append(chat, string(p.Payload)) })

	r.Dispatch(dialog.DataPacket{Topic: "config", Sender: "user-1", Payload: []byte("a")})
	r.Dispatch(dialog.DataPacket{Topic: "", Sender: "user-1", Payload: []byte("b")})
	r.Dispatch(dialog.DataPacket{Topic: ChatTopic, Sender: "user-1", Payload: []byte("yes")})
	r.Dispatch(dialog.DataPacket{Topic: ReplyTopic, Sender: "user-1", Payload: []byte("echo")})
	r.Dispatch(dialog.DataPacket{Topic: "config", Sender: "agent-1", Payload: []byte("self")})

	if len(data) != 2 || data[0] != "a" || data[1] != "b" {
		t.Fatalf("data=%v", data)
	}
	if len(chat) != 1 || chat[0] != "yes" {
		t.Fatalf("chat=%v", chat)
	}

	unsubscribe()
	unsubscribe()
	r.Dispatch(dialog.DataPacket{Topic: "config", Payload: []byte("c")})
	if len(data) != 2 {
		t.Fatalf("handler still subscribed: %v", data)
	}
}

func TestHTTPURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"wss://example.livekit.cloud", "https://example.livekit.cloud"},
		{"ws://localhost:7880", "http://localhost:7880"},
		{"https://already.http", "https://already.http"},
	}
	for _, tt := range tests {
		if got := HTTPURL(tt.in); got != tt.want {
			t.Fatalf("HTTPURL(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeRoomService struct {
	rooms     []*livekit.Room
	created   []*livekit.CreateRoomRequest
	deleted   []string
	listErr   error
	createErr error
	deleteErr error
}

func (f *fakeRoomService) ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &livekit.ListRoomsResponse{Rooms: f.rooms}, nil
}

func (f *fakeRoomService) CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	room := &livekit.Room{Name: req.Name, EmptyTimeout: req.EmptyTimeout, MaxParticipants: req.MaxParticipants}
	f.rooms = append(f.rooms, room)
	return room, nil
}

func (f *fakeRoomService) DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, req.Room)
	return &livekit.DeleteRoomResponse{}, nil
}

func TestProvisioner_EnsureRoom(t *testing.T) {
	svc := &fakeRoomService{}
	p := NewProvisioner(svc, time.Hour, 5)

	room, err := p.EnsureRoom(context.Background(), "room-1", `{"name":"Table"}`)
	if err != nil {
		t.Fatalf("EnsureRoom: %v", err)
	}
	if room.GetName() != "room-1" || room.GetEmptyTimeout() != 3600 || room.GetMaxParticipants() != 5 {
		t.Fatalf("room=%+v", room)
	}

	if _, err := p.EnsureRoom(context.Background(), "room-1", ""); err != nil {
		t.Fatalf("EnsureRoom again: %v", err)
	}
	if len(svc.created) != 1 {
		t.Fatalf("created=%d, want 1", len(svc.created))
	}
	if svc.created[0].Metadata != `{"name":"Table"}` {
		t.Fatalf("metadata=%q", svc.created[0].Metadata)
	}
}

func TestProvisioner_Errors(t *testing.T) {
	p := NewProvisioner(&fakeRoomService{listErr: errors.New("unauthorized")}, time.Hour, 5)
	if _, err := p.EnsureRoom(context.Background(), "r", ""); !errors.Is(err, ErrProvisioning) {
		t.Fatalf("list failure: err=%v", err)
	}

	p = NewProvisioner(&fakeRoomService{createErr: errors.New("quota")}, time.Hour, 5)
	if _, err := p.EnsureRoom(context.Background(), "r", ""); !errors.Is(err, ErrProvisioning) {
		t.Fatalf("create failure: err=%v", err)
	}

	svc := &fakeRoomService{}
	p = NewProvisioner(svc, time.Hour, 5)
	if err := p.Delete(context.Background(), "r"); err != nil || len(svc.deleted) != 1 {
		t.Fatalf("delete: err=%v deleted=%v", err, svc.deleted)
	}
}

func TestDeleteRoom_WrapsError(t *testing.T) {
	err := DeleteRoom(context.Background(), &fakeRoomService{deleteErr: errors.New("not found")}, "room-x")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestParticipantToken(t *testing.T) {
	issuer := NewTokenIssuer("key", "a-secret-that-is-long-enough-for-hs256", time.Hour)

	token, err := issuer.ParticipantToken("room-1", "user-1")
	if err != nil {
		t.Fatalf("ParticipantToken: %v", err)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("a-secret-that-is-long-enough-for-hs256"), nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims["sub"] != "user-1" || claims["iss"] != "key" {
		t.Fatalf("claims=%v", claims)
	}
	video, _ := claims["video"].(map[string]interface{})
	if video["room"] != "room-1" || video["roomJoin"] != true || video["canPublishData"] != true {
		t.Fatalf("video grant=%v", video)
	}

	if _, err := issuer.ParticipantToken("", "user-1"); err == nil {
		t.Fatalf("expected error for empty room")
	}
}

func TestWaitForParticipant(t *testing.T) {
	r := &Room{Router: NewRouter("agent"), joined: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.WaitForParticipant(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}

	r.markJoined()
	r.markJoined()
	if err := r.WaitForParticipant(context.Background()); err != nil {
		t.Fatalf("after join: %v", err)
	}

	if err := r.PublishReliable(context.Background(), "config", []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("publish without connection: err=%v", err)
	}
}
