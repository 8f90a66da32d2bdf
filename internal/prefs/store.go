// Package prefs provides the durable per-install key/value store that survives
// process restarts.
//
// The study engine persists exactly two facts here, the first-run timestamp
// and (legacy mode) the chosen variation, under keys prefixed by the study
// namespace. Every backend treats keys as overwrite-only strings; each study
// instance owns a disjoint namespace, so no cross-key locking is needed.
package prefs

import (
	"context"
	"strings"
)

// Well-known key names. Use Key to build the namespaced form.
const (
	KeyFirstRunTimestamp = "firstRunTimestamp"
	KeyVariation         = "variation"
	KeyClientID          = "clientId"
)

// Store is the capability set every backend implements.
type Store interface {
	// Get returns the stored value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set creates or overwrites the value for key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Key joins a namespace and a key name with a dot: Key("shield.x", "variation")
// yields "shield.x.variation".
func Key(namespace, name string) string {
	namespace = strings.TrimSuffix(namespace, ".")
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}
