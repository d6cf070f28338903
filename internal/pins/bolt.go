package pins

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/Tonoyama/EkiPick/internal/models"
	bolt "go.etcd.io/bbolt"
)

var pinsBucket = []byte("pins")

// BoltStore keeps saved pins in a local BoltDB file. Pins are keyed by label and coordinates, so
// saving the same pin twice keeps a single record.
type BoltStore struct {
	db *bolt.DB
}

type storedPin struct {
	models.LocationPin
	Seq     uint64    `json:"seq"`
	SavedAt time.Time `json:"savedAt"`
}

// NewBoltStore opens (or creates, with 0600 permissions) the database at path and makes sure the
// pins bucket exists.
func NewBoltStore(path string) (BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltStore{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pinsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltStore{}, fmt.Errorf("failed to create pins bucket: %w", err)
	}

	return BoltStore{db: db}, nil
}

// Save stores pin. Saving a pin that already exists is not an error.
func (b BoltStore) Save(_ context.Context, pin models.LocationPin) error {
	if !pin.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidPin, pin)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(pinsBucket)
		key := []byte(pin.Key())
		if bkt.Get(key) != nil {
			return nil
		}

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(storedPin{LocationPin: pin, Seq: seq, SavedAt: time.Now()})
		if err != nil {
			return fmt.Errorf("failed to marshal pin: %w", err)
		}
		return bkt.Put(key, v)
	})
}

// List returns saved pins in the order they were first saved.
func (b BoltStore) List(context.Context) ([]models.LocationPin, error) {
	var stored []storedPin
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pinsBucket).ForEach(func(_, v []byte) error {
			var p storedPin
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to unmarshal pin: %w", err)
			}
			stored = append(stored, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(stored, func(a, b storedPin) int { return cmp.Compare(a.Seq, b.Seq) })
	pins := make([]models.LocationPin, len(stored))
	for i, p := range stored {
		pins[i] = p.LocationPin
	}
	return pins, nil
}

// Delete removes a saved pin. Deleting an unknown pin is a no-op.
func (b BoltStore) Delete(_ context.Context, pin models.LocationPin) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pinsBucket).Delete([]byte(pin.Key()))
	})
}

// Close releases the database file.
func (b BoltStore) Close() error {
	return b.db.Close()
}
