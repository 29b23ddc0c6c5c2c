package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livekit/protocol/livekit"
)

// ErrProvisioning marks failures of the room service while preparing a room.
var ErrProvisioning = errors.New("room provisioning failed")

// Provisioner makes sure rooms exist before participants join.
type Provisioner struct {
	rooms           RoomService
	emptyTimeout    time.Duration
	maxParticipants uint32
}

// NewProvisioner creates a provisioner.
func NewProvisioner(rooms RoomService, emptyTimeout time.Duration, maxParticipants int) *Provisioner {
	return &Provisioner{
		rooms:           rooms,
		emptyTimeout:    emptyTimeout,
		maxParticipants: uint32(maxParticipants),
	}
}

// EnsureRoom returns the named room, creating it if needed.
func (p *Provisioner) EnsureRoom(ctx context.Context, name, metadata string) (*livekit.Room, error) {
	list, err := p.rooms.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{name}})
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %v", ErrProvisioning, err)
	}
	for _, r := range list.GetRooms() {
		if r.GetName() == name {
			return r, nil
		}
	}

	created, err := p.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    uint32(p.emptyTimeout.Seconds()),
		MaxParticipants: p.maxParticipants,
		Metadata:        metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create room: %v", ErrProvisioning, err)
	}
	return created, nil
}

// Delete removes a room.
func (p *Provisioner) Delete(ctx context.Context, name string) error {
	if err := DeleteRoom(ctx, p.rooms, name); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	return nil
}

// HTTPURL converts a websocket LiveKit URL into the HTTP form the room API expects.
func HTTPURL(url string) string {
	switch {
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	default:
		return url
	}
}
