// Package room adapts LiveKit rooms to the session: connection, participant presence,
// reliable data messages, token minting and room lifecycle.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-configurator/internal/dialog"
	"github.com/capitalize-ai/voice-configurator/pkg/logger"
)

// ErrNotConnected is returned when the room connection is gone.
var ErrNotConnected = errors.New("room not connected")

// Credentials identify the LiveKit deployment.
type Credentials struct {
	URL       string
	APIKey    string
	APISecret string
}

// RoomService is the subset of the LiveKit room API the agent and the API use.
type RoomService interface {
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
}

// NewRoomService creates a LiveKit room service client.
func NewRoomService(creds Credentials) RoomService {
	return lksdk.NewRoomServiceClient(HTTPURL(creds.URL), creds.APIKey, creds.APISecret)
}

// Room is the agent's connection to one LiveKit room.
type Room struct {
	*Router

	name     string
	identity string
	rooms    RoomService
	logger   *logger.Logger

	mu   sync.RWMutex
	conn *lksdk.Room

	joined     chan struct{}
	joinedOnce sync.Once
}

// Connect joins roomName as identity.
func Connect(ctx context.Context, creds Credentials, roomName, identity string, rooms RoomService, log *logger.Logger) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	if rooms == nil {
		rooms = NewRoomService(creds)
	}

	r := &Room{
		Router:   NewRouter(identity),
		name:     roomName,
		identity: identity,
		rooms:    rooms,
		logger:   log,
		joined:   make(chan struct{}),
	}

	callback := &lksdk.RoomCallback{
		OnParticipantConnected: func(p *lksdk.RemoteParticipant) {
			r.logger.Info("participant connected", zap.String("participant", p.Identity()))
			r.markJoined()
		},
		OnParticipantDisconnected: func(p *lksdk.RemoteParticipant) {
			r.logger.Info("participant disconnected", zap.String("participant", p.Identity()))
		},
		OnDisconnected: func() {
			r.logger.Info("disconnected from room")
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnDataReceived: func(data []byte, params lksdk.DataReceiveParams) {
				r.Dispatch(dialog.DataPacket{
					Topic:   params.Topic,
					Sender:  params.SenderIdentity,
					Payload: data,
				})
			},
		},
	}

	conn, err := lksdk.ConnectToRoom(creds.URL, lksdk.ConnectInfo{
		APIKey:              creds.APIKey,
		APISecret:           creds.APISecret,
		RoomName:            roomName,
		ParticipantIdentity: identity,
		ParticipantName:     identity,
	}, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to room %s: %w", roomName, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	if len(conn.GetRemoteParticipants()) > 0 {
		r.markJoined()
	}

	r.logger.Info("connected to room", zap.String("room", roomName), zap.String("identity", identity))
	return r, nil
}

func (r *Room) markJoined() {
	r.joinedOnce.Do(func() { close(r.joined) })
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// WaitForParticipant blocks until a remote participant is present.
func (r *Room) WaitForParticipant(ctx context.Context) error {
	select {
	case <-r.joined:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for participant: %w", ctx.Err())
	}
}

// PublishReliable sends payload on topic with reliable delivery.
func (r *Room) PublishReliable(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	return conn.LocalParticipant.PublishData(payload,
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topic),
	)
}

// Speak publishes agent text on the reply topic.
func (r *Room) Speak(ctx context.Context, text string) error {
	return r.PublishReliable(ctx, ReplyTopic, []byte(text))
}

// DeleteRoom removes the room on the server, disconnecting everyone.
func (r *Room) DeleteRoom(ctx context.Context) error {
	return DeleteRoom(ctx, r.rooms, r.name)
}

// Disconnect leaves the room. Safe to call more than once.
func (r *Room) Disconnect() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
}

// DeleteRoom deletes name through rooms.
func DeleteRoom(ctx context.Context, rooms RoomService, name string) error {
	if _, err := rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name}); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", name, err)
	}
	return nil
}
