// Package notify carries one-shot user notifications across a redirect by
// keeping them in the visitor's client storage.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"bookstore/pkg/clientstore"
)

// Kind selects how a notification is presented.
type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Warning Kind = "warning"
)

// Notification is a transient message for the next rendered page.
type Notification struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Flash stores n for the next page render, replacing any pending one.
func Flash(ctx context.Context, storage clientstore.Storage, n Notification) {
	if n.Kind == "" {
		n.Kind = Success
	}
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := storage.Set(ctx, clientstore.FlashKey, string(data)); err != nil {
		slog.Warn("store notification failed", "err", err)
	}
}

// Take returns and clears the pending notification.
func Take(ctx context.Context, storage clientstore.Storage) (Notification, bool) {
	raw, ok, err := storage.Get(ctx, clientstore.FlashKey)
	if err != nil || !ok || raw == "" {
		return Notification{}, false
	}
	if err := storage.Delete(ctx, clientstore.FlashKey); err != nil {
		slog.Warn("clear notification failed", "err", err)
	}
	var n Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil || n.Message == "" {
		return Notification{}, false
	}
	return n, true
}
