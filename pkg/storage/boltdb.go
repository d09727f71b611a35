package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEvents = []byte("rollback_events")
)

const (
	// DefaultFileName is the audit database file inside the data directory
	DefaultFileName = "rollout.db"

	// events decoded per read transaction while iterating
	pageSize = 64
)

// BoltAuditLog implements AuditLog using BoltDB. Keys are the event timestamp
// in big-endian nanoseconds followed by a per-bucket sequence number, so a
// cursor walk is timestamp ordered and equal timestamps keep append order.
type BoltAuditLog struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltAuditLog opens or creates the audit database in dataDir
func NewBoltAuditLog(dataDir string) (*BoltAuditLog, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DefaultFileName)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEvents); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketEvents, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltAuditLog{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltAuditLog) Close() error {
	return s.db.Close()
}

// Append assigns an ID and timestamp when missing and writes the event in
// its own transaction
func (s *BoltAuditLog) Append(ctx context.Context, event *types.RollbackEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(eventKey(event.Timestamp, seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", event.ID, err)
	}
	return nil
}

// Query returns an iterator that reads pageSize events per transaction
func (s *BoltAuditLog) Query(filter Filter) Iterator {
	if filter.To.IsZero() {
		filter.To = s.now().Add(time.Nanosecond)
	}
	return &boltIterator{db: s.db, filter: filter}
}

func eventKey(ts time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

func timeKey(ts time.Time) []byte {
	if ts.IsZero() || ts.UnixNano() < 0 {
		return make([]byte, 8)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	return key
}

type boltIterator struct {
	db     *bolt.DB
	filter Filter

	lastKey []byte
	page    []types.RollbackEvent
	pos     int
	current types.RollbackEvent
	done    bool
	err     error
}

func (it *boltIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.pos >= len(it.page) {
		if it.done {
			return false
		}
		if err := it.fetch(); err != nil {
			it.err = err
			return false
		}
	}
	it.current = it.page[it.pos]
	it.pos++
	return true
}

// fetch loads the next page after lastKey
func (it *boltIterator) fetch() error {
	it.page = it.page[:0]
	it.pos = 0
	upper := timeKey(it.filter.To)

	return it.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()

		var k, v []byte
		if it.lastKey == nil {
			k, v = c.Seek(timeKey(it.filter.From))
		} else {
			k, v = c.Seek(it.lastKey)
			if k != nil && bytes.Equal(k, it.lastKey) {
				k, v = c.Next()
			}
		}

		for ; k != nil; k, v = c.Next() {
			if bytes.Compare(k[:8], upper) >= 0 {
				it.done = true
				return nil
			}
			it.lastKey = append(it.lastKey[:0], k...)

			var ev types.RollbackEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("failed to decode event at %x: %w", k, err)
			}
			if it.filter.Lineage != "" && ev.Lineage != it.filter.Lineage {
				continue
			}
			it.page = append(it.page, ev)
			if len(it.page) == pageSize {
				return nil
			}
		}
		it.done = true
		return nil
	})
}

func (it *boltIterator) Event() types.RollbackEvent {
	return it.current
}

func (it *boltIterator) Err() error {
	return it.err
}

func (it *boltIterator) Reset() {
	it.lastKey = nil
	it.page = it.page[:0]
	it.pos = 0
	it.current = types.RollbackEvent{}
	it.done = false
	it.err = nil
}
