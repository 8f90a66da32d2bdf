package study

import (
	"context"
	"strings"
	"sync"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/prefs"
)

// StoreTracker records the active experiment as "<name>:<branch>" under
// <namespace>.activeExperiment so that host tooling can list it.
type StoreTracker struct {
	store prefs.Store
	key   string
}

// NewStoreTracker creates a tracker writing to store under namespace.
func NewStoreTracker(store prefs.Store, namespace string) *StoreTracker {
	if store == nil {
		panic("study: store cannot be nil")
	}
	return &StoreTracker{store: store, key: prefs.Key(namespace, "activeExperiment")}
}

func (t *StoreTracker) SetActive(ctx context.Context, name, branch string) error {
	return t.store.Set(ctx, t.key, name+":"+branch)
}

// SetInactive clears the record if it belongs to name.
func (t *StoreTracker) SetInactive(ctx context.Context, name string) error {
	current, ok, err := t.store.Get(ctx, t.key)
	if err != nil || !ok {
		return err
	}
	if !strings.HasPrefix(current, name+":") {
		return nil
	}
	return t.store.Delete(ctx, t.key)
}

// Active returns the recorded experiment and branch.
func (t *StoreTracker) Active(ctx context.Context) (name, branch string, ok bool, err error) {
	current, ok, err := t.store.Get(ctx, t.key)
	if err != nil || !ok {
		return "", "", false, err
	}
	name, branch, _ = strings.Cut(current, ":")
	return name, branch, true, nil
}

// HostPermissions is a mutable PermissionsProvider. Keep it current by
// registering Update as the OnDataPermissionsChange listener.
type HostPermissions struct {
	mu sync.RWMutex
	p  Permissions
}

func NewHostPermissions(initial Permissions) *HostPermissions {
	return &HostPermissions{p: initial}
}

func (h *HostPermissions) DataPermissions(context.Context) (Permissions, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.p, nil
}

func (h *HostPermissions) Update(p Permissions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.p = p
}
