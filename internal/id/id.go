// Package id generates the ULIDs used across ironmq: request ids sent in the
// X-Request-Id header, poller ids, dry-run journal keys and message ids handed
// out by the in-memory test service.
//
// ULIDs are time-ordered, so journal keys sort by creation time without a
// separate timestamp index.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// monoEntropy is shared by every New call so ids stay lexicographically
// ordered even within the same millisecond.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID string.
func New() (string, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	v, err := ulid.New(ulid.Timestamp(time.Now()), monoEntropy)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// MustNew is like New but panics on error. The monotonic reader only fails
// when the entropy for one millisecond overflows.
func MustNew() string {
	v, err := New()
	if err != nil {
		panic(fmt.Sprintf("id.MustNew: %v", err))
	}
	return v
}

// Validate returns an error if s is not a well-formed ULID string.
func Validate(s string) error {
	_, err := ulid.ParseStrict(s)
	return err
}

// Time returns the creation time encoded in a ULID string.
func Time(s string) (time.Time, error) {
	v, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(v.Time()), nil
}
