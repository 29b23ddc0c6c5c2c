package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"
)

const maxMetadataBytes = 64 * 1024

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateMetadata validates the product metadata sent with a join request.
// Empty metadata is accepted; the session falls back to its default product.
func ValidateMetadata(metadata string) error {
	if len(metadata) > maxMetadataBytes {
		return errors.New("metadata exceeds maximum length")
	}
	if !utf8.ValidString(metadata) {
		return errors.New("metadata must be valid UTF-8")
	}
	return nil
}

// ValidateRoomName validates a room name taken from the request.
func ValidateRoomName(name string) error {
	if name == "" {
		return errors.New("room name is required")
	}
	if !roomNamePattern.MatchString(name) {
		return errors.New("invalid room name format")
	}
	return nil
}
