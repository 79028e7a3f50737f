package persist

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	boltUsersBucket        = []byte("users")
	boltAppointmentsBucket = []byte("appointments")
	boltHistoryBucket      = []byte("history")
)

// Bolt is a Gateway backed by a bbolt file. Users are keyed by
// username; appointments and history by their id in big-endian so that
// cursor order equals numeric order for non-negative ids.
type Bolt struct {
	bdb    *bbolt.DB
	logger *slog.Logger
}

// OpenBolt opens (or creates) the bbolt file at path.
func OpenBolt(path string, fsync bool, logger *slog.Logger) (*Bolt, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	bdb, err := bbolt.Open(path, 0644, &bbolt.Options{
		Timeout: time.Second,
		NoSync:  !fsync,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: opening %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{boltUsersBucket, boltAppointmentsBucket, boltHistoryBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("bolt: creating buckets: %w", err)
	}
	logger.Info("bolt gateway opened", "path", path)
	return &Bolt{bdb: bdb, logger: logger}, nil
}

// Close closes the bbolt file.
func (b *Bolt) Close() error {
	return b.bdb.Close()
}

func boltIDKey(id int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

// LoadAll reads every bucket in a single read transaction.
func (b *Bolt) LoadAll(context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	err := b.bdb.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(boltUsersBucket).ForEach(func(k, v []byte) error {
			var u User
			if err := msgpack.Unmarshal(v, &u); err != nil {
				return fmt.Errorf("decode user %q: %w", k, err)
			}
			snap.Users = append(snap.Users, u)
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.Bucket(boltAppointmentsBucket).ForEach(func(k, v []byte) error {
			var a Appointment
			if err := msgpack.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode appointment %x: %w", k, err)
			}
			snap.Appointments = append(snap.Appointments, a)
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(boltHistoryBucket).ForEach(func(k, v []byte) error {
			var h History
			if err := msgpack.Unmarshal(v, &h); err != nil {
				return fmt.Errorf("decode history %x: %w", k, err)
			}
			snap.History = append(snap.History, h)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: load: %w", err)
	}
	return snap, nil
}

// OnMutation writes the record under its key, replacing any previous
// value.
func (b *Bolt) OnMutation(_ context.Context, m Mutation) error {
	if err := m.validate(); err != nil {
		return err
	}

	var bucket, key []byte
	var rec any
	switch m.Kind {
	case KindUser:
		bucket, key, rec = boltUsersBucket, []byte(m.User.Username), m.User
	case KindAppointment:
		bucket, key, rec = boltAppointmentsBucket, boltIDKey(m.Appointment.ID), m.Appointment
	case KindHistory:
		bucket, key, rec = boltHistoryBucket, boltIDKey(m.History.ID), m.History
	}
	val, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("bolt: encode %s: %w", m.Kind, err)
	}

	err = b.bdb.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, val)
	})
	if err != nil {
		return fmt.Errorf("bolt: put %s: %w", m.Kind, err)
	}
	return nil
}
