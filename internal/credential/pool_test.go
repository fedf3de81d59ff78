package credential

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPool(rotation int, creds ...Credential) *Pool {
	p := NewPool(rotation, time.Minute)
	p.now = func() time.Time { return testNow }
	p.Replace(creds)
	return p
}

func cred(id string) Credential {
	return Credential{ID: id, Bearer: "token-" + id}
}

func nextIDs(t *testing.T, p *Pool, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c, err := p.Next()
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	return ids
}

func TestPool_RotatesInOrder(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"), cred("c"))
	assert.Equal(t, []string{"a", "b", "c", "a"}, nextIDs(t, p, 4))
}

func TestPool_RotationCountBatchesUses(t *testing.T) {
	p := newTestPool(2, cred("a"), cred("b"))
	assert.Equal(t, []string{"a", "a", "b", "b", "a"}, nextIDs(t, p, 5))
}

func TestPool_EmptyReturnsErrNoCredential(t *testing.T) {
	p := newTestPool(1)
	_, err := p.Next()
	assert.True(t, errors.Is(err, ErrNoCredential))

	_, ok := p.Current()
	assert.False(t, ok)
}

func TestPool_SkipsInvalidCredentials(t *testing.T) {
	expired := Credential{ID: "expired", Bearer: "x", ExpiresAt: testNow.Add(-time.Hour)}
	withinGrace := Credential{ID: "grace", Bearer: "x", ExpiresAt: testNow.Add(30 * time.Second)}
	empty := Credential{ID: "empty"}
	p := newTestPool(1, expired, cred("a"), withinGrace, empty, cred("b"))

	assert.Equal(t, []string{"a", "b", "a"}, nextIDs(t, p, 3))
}

func TestPool_AllInvalid(t *testing.T) {
	p := newTestPool(1, Credential{ID: "a"}, Credential{ID: "b", Bearer: "x", ExpiresAt: testNow})
	_, err := p.Next()
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestPool_PinIsStickyUntilCleared(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"), cred("c"))
	require.NoError(t, p.Select(1))

	assert.Equal(t, []string{"b", "b", "b"}, nextIDs(t, p, 3))

	p.ClearPin()
	assert.Equal(t, []string{"a", "b"}, nextIDs(t, p, 2))
}

func TestPool_SelectOutOfRange(t *testing.T) {
	p := newTestPool(1, cred("a"))
	for _, idx := range []int{-1, 1, 5} {
		err := p.Select(idx)
		var indexErr *IndexError
		require.ErrorAs(t, err, &indexErr)
		assert.Equal(t, idx, indexErr.Index)
		assert.Equal(t, 400, indexErr.StatusCode())
	}
}

func TestPool_InvalidPinFallsBackToRotation(t *testing.T) {
	p := newTestPool(1, cred("a"), Credential{ID: "b", Bearer: "x", ExpiresAt: testNow.Add(-time.Second)})
	require.NoError(t, p.Select(1))
	assert.Equal(t, []string{"a", "a"}, nextIDs(t, p, 2))
}

func TestPool_ToggleAutoRotation(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"))
	assert.False(t, p.ToggleAutoRotation())
	assert.Equal(t, []string{"a", "a", "a"}, nextIDs(t, p, 3))

	assert.True(t, p.ToggleAutoRotation())
	assert.Equal(t, []string{"a", "b"}, nextIDs(t, p, 2))
}

func TestPool_PinFollowsIDAcrossRemoval(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"), cred("c"))
	require.NoError(t, p.Select(2))

	removed, err := p.Remove(0)
	require.NoError(t, err)
	assert.Equal(t, "a", removed.ID)

	c, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "c", c.ID)
	assert.Equal(t, 1, p.Snapshot().PinnedIndex)
}

func TestPool_RemovingPinnedClearsPin(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"))
	require.NoError(t, p.Select(1))
	_, err := p.Remove(1)
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, -1, snap.PinnedIndex)
	assert.Equal(t, []string{"a", "a"}, nextIDs(t, p, 2))
}

func TestPool_RemoveClampsCursor(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"))
	nextIDs(t, p, 1) // cursor -> b
	_, err := p.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Snapshot().Cursor)

	_, err = p.Remove(3)
	assert.Error(t, err)
}

func TestPool_ReplaceKeepsCursorAndPinByID(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"), cred("c"))
	nextIDs(t, p, 1) // cursor -> b
	require.NoError(t, p.Select(2))

	p.Replace([]Credential{cred("c"), cred("b"), cred("d")})
	snap := p.Snapshot()
	assert.Equal(t, 1, snap.Cursor)
	assert.Equal(t, 0, snap.PinnedIndex)

	p.Replace([]Credential{cred("x")})
	snap = p.Snapshot()
	assert.Equal(t, 0, snap.Cursor)
	assert.Equal(t, -1, snap.PinnedIndex)
}

func TestPool_AddAssignsIDAndUpdatesExisting(t *testing.T) {
	p := newTestPool(1)
	added := p.Add(Credential{Bearer: "t"})
	assert.NotEmpty(t, added.ID)

	p.Add(Credential{ID: added.ID, Bearer: "t2"})
	assert.Equal(t, 1, p.Len())
	got, err := p.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Bearer)
}

func TestPool_CurrentDoesNotConsume(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"))
	entry, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "a", entry.Credential.ID)
	assert.False(t, entry.Pinned)

	entry, _ = p.Current()
	assert.Equal(t, "a", entry.Credential.ID)

	require.NoError(t, p.Select(1))
	entry, _ = p.Current()
	assert.Equal(t, 1, entry.Index)
	assert.True(t, entry.Pinned)
}

func TestPool_SnapshotFlags(t *testing.T) {
	p := newTestPool(3, cred("a"), Credential{ID: "b"})
	snap := p.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.True(t, snap.Entries[0].Valid)
	assert.True(t, snap.Entries[0].Current)
	assert.False(t, snap.Entries[1].Valid)
	assert.True(t, snap.AutoRotation)
	assert.Equal(t, 3, snap.RotationCount)
}

func TestPool_SetRotationCount(t *testing.T) {
	p := newTestPool(5, cred("a"), cred("b"))
	p.SetRotationCount(0)
	assert.Equal(t, 1, p.Snapshot().RotationCount)
	assert.Equal(t, []string{"a", "b"}, nextIDs(t, p, 2))
}

func TestPool_ConcurrentNext(t *testing.T) {
	p := newTestPool(1, cred("a"), cred("b"), cred("c"))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[string]int{}
	)
	for g := 0; g < 6; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c, err := p.Next()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				counts[c.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counts["a"])
	assert.Equal(t, 100, counts["b"])
	assert.Equal(t, 100, counts["c"])
}
