package id_test

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guestful/ironmq/internal/id"
)

func TestNew_IsValidULID(t *testing.T) {
	v, err := id.New()
	require.NoError(t, err)
	assert.Len(t, v, 26)
	assert.NoError(t, id.Validate(v))
}

func TestNew_Monotonic(t *testing.T) {
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = id.MustNew()
	}
	assert.True(t, sort.StringsAreSorted(ids), "ids must sort in creation order")
}

func TestNew_ConcurrentUnique(t *testing.T) {
	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := id.MustNew()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestValidate_RejectsGarbage(t *testing.T) {
	assert.Error(t, id.Validate("not-a-ulid"))
	assert.Error(t, id.Validate(""))
}

func TestTime_RoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Millisecond)
	v := id.MustNew()
	ts, err := id.Time(v)
	require.NoError(t, err)
	assert.False(t, ts.Before(before.Truncate(time.Millisecond)))
}
