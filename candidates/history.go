// Package candidates finds objects worth (re)classifying: objects seen for
// the first time and objects whose observation count grew past a threshold
// since the previous run. Counts from the previous run are kept in boltdb.
package candidates

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var countsBucket = []byte("counts")

// Record is the state of one object as of the last run.
type Record struct {
	SourceID     int64
	Count        int64
	PartitionKey int64
	RA           float64
	Dec          float64
}

// History stores one Record per object.
type History struct {
	Db *bolt.DB
}

// OpenHistory opens or creates the history database at filename.
func OpenHistory(filename string) (*History, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening history file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(countsBucket)
		return errors.Wrap(err, "creating counts bucket")
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &History{Db: db}, nil
}

// Close syncs and closes the underlying boltdb.
func (h *History) Close() error {
	err := h.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return h.Db.Close()
}

// Load returns every stored record keyed by source id.
func (h *History) Load() (map[int64]Record, error) {
	out := make(map[int64]Record)
	err := h.Db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(countsBucket).ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) != 32 {
				return errors.Errorf("corrupt history entry of %d/%d bytes", len(k), len(v))
			}
			r := decode(v)
			r.SourceID = int64(binary.BigEndian.Uint64(k))
			out[r.SourceID] = r
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading history")
	}
	return out, nil
}

// Replace discards the stored records and stores records instead.
func (h *History) Replace(records []Record) error {
	err := h.Db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(countsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return errors.Wrap(err, "clearing counts bucket")
		}
		b, err := tx.CreateBucket(countsBucket)
		if err != nil {
			return errors.Wrap(err, "creating counts bucket")
		}
		key := make([]byte, 8)
		for _, r := range records {
			binary.BigEndian.PutUint64(key, uint64(r.SourceID))
			if err := b.Put(key, encode(r)); err != nil {
				return errors.Wrapf(err, "storing %d", r.SourceID)
			}
		}
		return nil
	})
	return errors.Wrap(err, "replacing history")
}

func encode(r Record) []byte {
	v := make([]byte, 32)
	binary.BigEndian.PutUint64(v[0:], uint64(r.Count))
	binary.BigEndian.PutUint64(v[8:], uint64(r.PartitionKey))
	binary.BigEndian.PutUint64(v[16:], math.Float64bits(r.RA))
	binary.BigEndian.PutUint64(v[24:], math.Float64bits(r.Dec))
	return v
}

func decode(v []byte) Record {
	return Record{
		Count:        int64(binary.BigEndian.Uint64(v[0:])),
		PartitionKey: int64(binary.BigEndian.Uint64(v[8:])),
		RA:           math.Float64frombits(binary.BigEndian.Uint64(v[16:])),
		Dec:          math.Float64frombits(binary.BigEndian.Uint64(v[24:])),
	}
}
