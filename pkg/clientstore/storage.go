// Package clientstore is the storefront's durable client storage: a small
// key/value namespace per visitor that survives page reloads and restarts.
package clientstore

import (
	"context"
	"errors"
	"strings"
)

// Well-known keys.
const (
	TokenKey        = "token"
	RefreshTokenKey = "refreshToken"
	CartItemsKey    = "cartItems"
	FlashKey        = "flash"
)

// ErrInvalidNamespace is returned for blank visitor ids.
var ErrInvalidNamespace = errors.New("clientstore: namespace is required")

// Storage is one visitor's key/value space. Writes replace the whole value;
// there is no transaction across keys or across writers (last write wins).
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Backend hands out per-visitor storages.
type Backend interface {
	Namespace(visitorID string) (Storage, error)
}

func normalizeNamespace(visitorID string) (string, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return "", ErrInvalidNamespace
	}
	return visitorID, nil
}
