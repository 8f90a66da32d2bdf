package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/prefs"
)

// ResolveClientID returns the stable per-install client id. An explicit
// override wins; otherwise the id stored under key is reused, or a new UUID is
// generated and persisted.
func ResolveClientID(ctx context.Context, store prefs.Store, key, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	id, ok, err := store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read client id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := store.Set(ctx, key, id); err != nil {
		return "", fmt.Errorf("failed to persist client id: %w", err)
	}
	return id, nil
}
