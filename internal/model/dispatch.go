package model

import (
	"time"
)

// DispatchJob asks an agent worker to join a room and run a configuration session.
type DispatchJob struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	AgentName string    `json:"agent_name"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// JoinRequest is the request to join a new voice configuration room.
type JoinRequest struct {
	Metadata string `json:"metadata"`
}

// JoinResponse carries what a client needs to connect to the room.
type JoinResponse struct {
	Token      string `json:"token"`
	LiveKitURL string `json:"livekitUrl"`
	RoomName   string `json:"roomName"`
}

// ListDispatchesResponse is the response for listing dispatches in a room.
type ListDispatchesResponse struct {
	Room       string        `json:"room"`
	Dispatches []DispatchJob `json:"dispatches"`
	Total      int           `json:"total"`
}
