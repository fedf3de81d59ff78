package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Manager keeps a Pool in sync with a FileStore.
type Manager struct {
	pool   *Pool
	store  *FileStore
	reload singleflight.Group
	now    func() time.Time
}

// NewManager ties pool to store. Call Reload to populate the pool.
func NewManager(pool *Pool, store *FileStore) *Manager {
	return &Manager{pool: pool, store: store, now: time.Now}
}

// Pool returns the managed pool.
func (m *Manager) Pool() *Pool { return m.pool }

// Reload replaces the pool contents with what is on disk. Concurrent calls share
// one directory scan.
func (m *Manager) Reload(ctx context.Context) error {
	_, err, _ := m.reload.Do("reload", func() (interface{}, error) {
		creds, errLoad := m.store.Load(ctx)
		if errLoad != nil {
			return nil, errLoad
		}
		m.pool.Replace(creds)
		log.Infof("loaded %d CodeBuddy credential(s) from %s", len(creds), m.store.Dir())
		return nil, nil
	})
	return err
}

// AddRequest describes a credential supplied through the API or CLI.
type AddRequest struct {
	BearerToken string
	UserID      string
	FileName    string
}

// Add persists a new credential and appends it to the pool. The user id and
// expiry are taken from the token's JWT claims when not given.
func (m *Manager) Add(ctx context.Context, req AddRequest) (Credential, error) {
	bearer := strings.TrimSpace(req.BearerToken)
	if bearer == "" {
		return Credential{}, fmt.Errorf("bearer token is required")
	}
	claimUser, claimExpiry := ClaimsFromToken(bearer)
	c := Credential{
		Bearer:    bearer,
		UserID:    strings.TrimSpace(req.UserID),
		CreatedAt: m.now(),
		ExpiresAt: claimExpiry,
	}
	if c.UserID == "" {
		c.UserID = claimUser
	}
	if req.FileName != "" {
		name, err := SanitizeFileName(req.FileName)
		if err != nil {
			return Credential{}, err
		}
		c.ID = name
	}

	saved, err := m.store.Save(ctx, c)
	if err != nil {
		return Credential{}, err
	}
	m.pool.Add(saved)
	log.Infof("credential %s added", saved.ID)
	return saved, nil
}

// Delete removes the credential at index from the pool and from disk.
func (m *Manager) Delete(ctx context.Context, index int) (Credential, error) {
	removed, err := m.pool.Remove(index)
	if err != nil {
		return Credential{}, err
	}
	if err = m.store.Delete(ctx, removed.ID); err != nil {
		return removed, err
	}
	log.Infof("credential %s deleted", removed.ID)
	return removed, nil
}

// Watch reloads the pool whenever the store directory changes, until ctx ends.
func (m *Manager) Watch(ctx context.Context) error {
	return m.store.Watch(ctx, func() {
		if err := m.Reload(ctx); err != nil {
			log.Warnf("credential reload failed: %v", err)
		}
	})
}
