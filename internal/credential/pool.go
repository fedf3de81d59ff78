package credential

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pool rotates requests across credentials. It performs no I/O.
//
// With auto-rotation on and nothing pinned, each Next call counts one use of the
// credential under the cursor; after rotationCount uses the cursor advances.
// A pinned credential is returned for as long as it stays valid.
type Pool struct {
	mu            sync.Mutex
	creds         []Credential
	cursor        int
	uses          int
	rotationCount int
	autoRotate    bool
	pinnedID      string
	grace         time.Duration
	now           func() time.Time
}

// Entry is a point-in-time view of one pooled credential.
type Entry struct {
	Index      int
	Credential Credential
	Valid      bool
	Current    bool
	Pinned     bool
}

// Snapshot is a consistent copy of the pool state.
type Snapshot struct {
	Entries       []Entry
	Cursor        int
	PinnedIndex   int
	AutoRotation  bool
	RotationCount int
}

// NewPool creates an empty pool. rotationCount below 1 is treated as 1.
func NewPool(rotationCount int, grace time.Duration) *Pool {
	if rotationCount < 1 {
		rotationCount = 1
	}
	return &Pool{
		rotationCount: rotationCount,
		autoRotate:    true,
		grace:         grace,
		now:           time.Now,
	}
}

// Next returns the credential to use for the next upstream call.
func (p *Pool) Next() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	if n == 0 {
		return Credential{}, ErrNoCredential
	}
	now := p.now()

	if i := p.pinnedIndexLocked(); i >= 0 && p.creds[i].IsValid(now, p.grace) {
		return p.creds[i], nil
	}

	for k := 0; k < n; k++ {
		i := (p.cursor + k) % n
		if !p.creds[i].IsValid(now, p.grace) {
			continue
		}
		if i != p.cursor {
			p.cursor = i
			p.uses = 0
		}
		c := p.creds[i]
		if p.autoRotate {
			p.uses++
			if p.uses >= p.rotationCount {
				p.advanceLocked()
			}
		}
		return c, nil
	}
	return Credential{}, ErrNoCredential
}

// Select pins the credential at index until ClearPin is called or it is removed.
func (p *Pool) Select(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.creds) {
		return &IndexError{Index: index, Len: len(p.creds)}
	}
	p.pinnedID = p.creds[index].ID
	return nil
}

// ClearPin resumes rotation.
func (p *Pool) ClearPin() {
	p.mu.Lock()
	p.pinnedID = ""
	p.mu.Unlock()
}

// ToggleAutoRotation flips auto-rotation and returns the new state.
func (p *Pool) ToggleAutoRotation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoRotate = !p.autoRotate
	p.uses = 0
	return p.autoRotate
}

// SetRotationCount changes how many uses a credential gets before rotating.
func (p *Pool) SetRotationCount(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.rotationCount = n
	if p.uses >= n {
		p.uses = 0
	}
	p.mu.Unlock()
}

// SetGrace changes the expiry grace window.
func (p *Pool) SetGrace(grace time.Duration) {
	p.mu.Lock()
	p.grace = grace
	p.mu.Unlock()
}

// Replace swaps in a new credential list. The pin and cursor follow their
// credential IDs when those are still present.
func (p *Pool) Replace(creds []Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cursorID string
	if p.cursor < len(p.creds) {
		cursorID = p.creds[p.cursor].ID
	}

	p.creds = make([]Credential, len(creds))
	for i, c := range creds {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		p.creds[i] = c
	}

	if p.pinnedIndexLocked() < 0 {
		p.pinnedID = ""
	}
	p.cursor = 0
	for i, c := range p.creds {
		if c.ID == cursorID {
			p.cursor = i
			return
		}
	}
	p.uses = 0
}

// Add appends c and returns it with its ID assigned. An existing entry with the
// same ID is updated in place.
func (p *Pool) Add(c Credential) Credential {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.creds {
		if p.creds[i].ID == c.ID {
			p.creds[i] = c
			return c
		}
	}
	p.creds = append(p.creds, c)
	return c
}

// Remove deletes the credential at index and returns it.
func (p *Pool) Remove(index int) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.creds) {
		return Credential{}, &IndexError{Index: index, Len: len(p.creds)}
	}
	removed := p.creds[index]
	p.creds = append(p.creds[:index:index], p.creds[index+1:]...)

	if removed.ID == p.pinnedID {
		p.pinnedID = ""
	}
	switch {
	case index < p.cursor:
		p.cursor--
	case index == p.cursor:
		p.uses = 0
	}
	if p.cursor >= len(p.creds) {
		p.cursor = 0
	}
	return removed, nil
}

// Get returns the credential at index.
func (p *Pool) Get(index int) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.creds) {
		return Credential{}, &IndexError{Index: index, Len: len(p.creds)}
	}
	return p.creds[index], nil
}

// Len returns the number of pooled credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Current reports the credential Next would return, without consuming a use.
// ok is false when the pool is empty.
func (p *Pool) Current() (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.creds) == 0 {
		return Entry{}, false
	}
	now := p.now()
	idx := p.cursor
	pinned := false
	if i := p.pinnedIndexLocked(); i >= 0 && p.creds[i].IsValid(now, p.grace) {
		idx = i
		pinned = true
	}
	c := p.creds[idx]
	return Entry{
		Index:      idx,
		Credential: c,
		Valid:      c.IsValid(now, p.grace),
		Current:    true,
		Pinned:     pinned,
	}, true
}

// Snapshot returns a copy of every entry together with the rotation state.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	pinned := p.pinnedIndexLocked()
	current := p.cursor
	if pinned >= 0 && p.creds[pinned].IsValid(now, p.grace) {
		current = pinned
	}

	snap := Snapshot{
		Entries:       make([]Entry, len(p.creds)),
		Cursor:        p.cursor,
		PinnedIndex:   pinned,
		AutoRotation:  p.autoRotate,
		RotationCount: p.rotationCount,
	}
	for i, c := range p.creds {
		snap.Entries[i] = Entry{
			Index:      i,
			Credential: c,
			Valid:      c.IsValid(now, p.grace),
			Current:    i == current,
			Pinned:     i == pinned,
		}
	}
	return snap
}

func (p *Pool) advanceLocked() {
	p.cursor = (p.cursor + 1) % len(p.creds)
	p.uses = 0
}

func (p *Pool) pinnedIndexLocked() int {
	if p.pinnedID == "" {
		return -1
	}
	for i, c := range p.creds {
		if c.ID == p.pinnedID {
			return i
		}
	}
	return -1
}
