package dialog

import (
	"context"

	"github.com/capitalize-ai/voice-configurator/internal/model"
)

// Scope is the instruction set and tool set the runtime's recognizer is restricted to.
type Scope struct {
	Instructions string
	Tools        []ToolSpec
}

// ReplyOptions is a single "generate a reply" request.
type ReplyOptions struct {
	// UserInput is injected as user input for this turn, if set.
	UserInput string
	// Instructions are turn-level instructions on top of the scope.
	Instructions string
	// ToolChoice names the preferred tool for this turn, if any.
	ToolChoice string
}

// Runtime is the speech runtime the controller drives. Tool invocations come back
// through Controller.Invoke.
type Runtime interface {
	SetScope(scope Scope)
	GenerateReply(ctx context.Context, opts ReplyOptions) error
	AddSystemMessage(ctx context.Context, content string) error
}

// DataPacket is one inbound data-channel message.
type DataPacket struct {
	Topic   string
	Sender  string
	Payload []byte
}

// DataSource delivers inbound data-channel messages.
type DataSource interface {
	SubscribeData(handler func(DataPacket)) (unsubscribe func(), err error)
}

// RoomCloser deletes the room backing the session.
type RoomCloser interface {
	DeleteRoom(ctx context.Context) error
}

// EventPublisher broadcasts configuration events to room observers.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event model.ConfigEvent) error
}

// SnapshotStore keeps the live document for late observers.
type SnapshotStore interface {
	Save(ctx context.Context, snap *model.Snapshot) error
	Delete(ctx context.Context, room string) error
}
