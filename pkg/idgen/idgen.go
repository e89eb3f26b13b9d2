package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a random UUID. Used for commands.
func NewID() string {
	return uuid.NewString()
}

// NewSortableID returns a ULID. IDs generated by one process are strictly
// increasing, so events sort in creation order.
func NewSortableID() string {
	return MustGenerateSortableID(time.Now())
}

// MustGenerateSortableID returns a ULID for t. It panics if entropy is exhausted.
func MustGenerateSortableID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}
