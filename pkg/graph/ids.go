package graph

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID in its canonical string form. IDs are unique within a
// graph; lineage ids repeat across change sets to track the same
// conceptual node through copies.
type ID string

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh ULID. Monotonic entropy keeps ids generated in
// the same millisecond sortable in creation order.
func NewID() ID {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// ParseID validates the canonical ULID form.
func ParseID(s string) (ID, error) {
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", err
	}

	return ID(s), nil
}

// Less orders ids temporally (ULID lexical order is temporal order).
func (id ID) Less(other ID) bool {
	return id < other
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}
