package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/netweave/netweave/pkg/events"
)

var (
	// Bucket names
	bucketEvents    = []byte("events")
	bucketFramework = []byte("framework")
)

var keyFrameworkID = []byte("id")

// Journal is a BoltDB-backed record of framework activity. It keeps
// two things: an append-only event log for operators, and the
// framework ID handed out at first registration so a restarted
// scheduler re-registers as the same framework instead of orphaning
// its tasks.
type Journal struct {
	db  *bolt.DB
	log zerolog.Logger
}

// Open opens (or creates) the journal database under dataDir.
func Open(dataDir string, logger zerolog.Logger) (*Journal, error) {
	dbPath := filepath.Join(dataDir, "netweave.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketFramework} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db, log: logger}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append writes one event under the next sequence number.
func (j *Journal) Append(e *events.Event) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// Tail returns the most recent n events, oldest first.
func (j *Journal) Tail(n int) ([]*events.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []*events.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var e events.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// SaveFrameworkID persists the registered framework ID.
func (j *Journal) SaveFrameworkID(id string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFramework).Put(keyFrameworkID, []byte(id))
	})
}

// FrameworkID returns the persisted framework ID, or "" when this is
// a first launch.
func (j *Journal) FrameworkID() (string, error) {
	var id string
	err := j.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketFramework).Get(keyFrameworkID); v != nil {
			id = string(v)
		}
		return nil
	})
	return id, err
}

// Run subscribes to the broker and journals every event until the
// context is cancelled. Intended to run as its own goroutine.
func (j *Journal) Run(ctx context.Context, broker *events.Broker) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := j.Append(e); err != nil {
				j.log.Error().Err(err).Str("event", string(e.Type)).Msg("journaling event")
			}
		}
	}
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
