package internal

import (
	"github.com/google/uuid"
)

// NewTokenID returns a random identifier for a jti. Token ids of both types
// share this space, so an access jti can never collide with a refresh jti.
func NewTokenID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewChainID returns a random identifier for a new session chain.
func NewChainID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return "ch_" + id.String(), nil
}

// NewRequestID returns an identifier for correlating one inbound request.
func NewRequestID() string {
	return uuid.NewString()
}
