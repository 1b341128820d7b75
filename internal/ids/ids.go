package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier whose timestamp component is t. Entries created
// with increasing t sort in creation order.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Prefixed returns New() with a short type tag, e.g. "usr_01J...".
func Prefixed(tag string) string {
	if tag == "" {
		return New()
	}
	return tag + "_" + New()
}
