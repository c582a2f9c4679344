// Package auth guards the HTTP surface with bearer API keys.
package auth

import (
	"context"
	"errors"
)

// ActorInfo describes an authenticated API caller.
type ActorInfo struct {
	ActorID string `json:"actor_id"`
	KeyName string `json:"key_name"`
}

// Authorizer validates API keys.
type Authorizer interface {
	Authorize(ctx context.Context, apiKey string) (*ActorInfo, error)
}

// ErrInvalidKey is returned for unknown or revoked API keys.
var ErrInvalidKey = errors.New("invalid API key")

// StaticAuthorizer validates against a fixed key set, keyed by API key with
// the actor name as value. Suitable for single-tenant deployments.
type StaticAuthorizer struct {
	keys map[string]string
}

func NewStaticAuthorizer(keys map[string]string) *StaticAuthorizer {
	return &StaticAuthorizer{keys: keys}
}

func (s *StaticAuthorizer) Authorize(ctx context.Context, apiKey string) (*ActorInfo, error) {
	name, ok := s.keys[apiKey]
	if !ok {
		return nil, ErrInvalidKey
	}
	return &ActorInfo{ActorID: name, KeyName: name}, nil
}
