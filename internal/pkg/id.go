package pkg

import "github.com/google/uuid"

// SessionIDLength is the length of ids handed out in shareable links.
const SessionIDLength = 8

// GenerateSessionID - generates a short random id for a new session.
func GenerateSessionID() string {
	return uuid.NewString()[:SessionIDLength]
}

// GenerateToken - generates an opaque random token.
func GenerateToken() string {
	return uuid.NewString()
}
