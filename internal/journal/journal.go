// Package journal records the requests a disabled ironmq client would have
// sent. Records live in a single bbolt file keyed by ULID, so iteration
// returns them in the order they were made.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.etcd.io/bbolt"

	"github.com/guestful/ironmq/internal/id"
)

var bucketRequests = []byte("requests")

// ErrNotFound is returned by Get for an unknown record id.
var ErrNotFound = errors.New("journal: record not found")

// Entry is one recorded request. The oauth query parameter is never stored.
type Entry struct {
	ID     string          `json:"id"`
	Time   time.Time       `json:"time"`
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Query  url.Values      `json:"query,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Journal is a bbolt-backed append-only request log. It is safe for
// concurrent use; bbolt serialises writers.
type Journal struct {
	db *bbolt.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRequests)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends a request. It satisfies ironmq.Recorder.
func (j *Journal) Record(method, path string, query url.Values, body []byte) error {
	key, err := id.New()
	if err != nil {
		return fmt.Errorf("journal: new id: %w", err)
	}
	e := Entry{
		ID:     key,
		Time:   time.Now().UTC(),
		Method: method,
		Path:   path,
		Query:  redact(query),
	}
	if len(body) > 0 && json.Valid(body) {
		e.Body = json.RawMessage(body)
	}
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal %s: %w", key, err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRequests).Put([]byte(key), val)
	})
}

// Get returns the record with the given id.
func (j *Journal) Get(key string) (Entry, error) {
	var e Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketRequests).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &e)
	})
	return e, err
}

// ForEach calls fn for every record, oldest first. Iteration stops at the
// first error fn returns.
func (j *Journal) ForEach(fn func(Entry) error) error {
	return j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("journal: decode %s: %w", k, err)
			}
			return fn(e)
		})
	})
}

// List returns up to limit records, oldest first. limit <= 0 means all.
func (j *Journal) List(limit int) ([]Entry, error) {
	var out []Entry
	errStop := errors.New("stop")
	err := j.ForEach(func(e Entry) error {
		if limit > 0 && len(out) >= limit {
			return errStop
		}
		out = append(out, e)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}

// Len returns the number of records.
func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketRequests).Stats().KeyN
		return nil
	})
	return n, err
}

// Truncate removes every record.
func (j *Journal) Truncate() error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketRequests); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketRequests)
		return err
	})
}

// Close closes the underlying bbolt database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func redact(q url.Values) url.Values {
	if len(q) == 0 {
		return nil
	}
	out := make(url.Values, len(q))
	for k, v := range q {
		if k == "oauth" {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
