package room

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// TokenIssuer mints participant access tokens.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

// NewTokenIssuer creates an issuer. A zero ttl means one hour.
func NewTokenIssuer(apiKey, apiSecret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

// ParticipantToken returns a token that lets identity join roomName, publish and
// subscribe media, and exchange data messages.
func (i *TokenIssuer) ParticipantToken(roomName, identity string) (string, error) {
	if roomName == "" || identity == "" {
		return "", fmt.Errorf("room and identity are required")
	}

	allow := true
	at := auth.NewAccessToken(i.apiKey, i.apiSecret).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(i.ttl).
		AddGrant(&auth.VideoGrant{
			RoomJoin:       true,
			Room:           roomName,
			CanPublish:     &allow,
			CanSubscribe:   &allow,
			CanPublishData: &allow,
		})

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}
