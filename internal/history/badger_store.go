package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rohann-max/FINSHIELD/internal/retry"
)

// Key layout:
//
//	e/<id>                   → JSON entry
//	t/<unix nanos><seq>      → id   (big endian, so byte order is time order)
var (
	entryPrefix = []byte("e/")
	timePrefix  = []byte("t/")
	seqKey      = []byte("seq")
)

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	// Dir is the database directory. Ignored when InMemory is true.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// BadgerStore is an embedded, file-backed Store for single-node deployments.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadgerStore opens (or creates) the embedded store.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("badger: directory is required for persistent store")
		}
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open badger sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func (s *BadgerStore) Insert(ctx context.Context, e *Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	n, err := s.seq.Next()
	if err != nil {
		return false, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	idxKey := timeKey(e.Timestamp, n)
	key := entryKey(e.ID)

	var inserted bool
	err = retry.Do(ctx, 5, 5*time.Millisecond, func() error {
		inserted = false
		err := s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == nil {
				return nil // first write wins
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return err
			}
			if err := txn.Set(idxKey, []byte(e.ID)); err != nil {
				return err
			}
			inserted = true
			return nil
		})
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert log entry: %w", err)
	}
	return inserted, nil
}

func (s *BadgerStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	limit = clampLimit(limit)
	result := make([]*Entry, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = timePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, timePrefix...), 0xFF)
		for it.Seek(seek); it.Valid() && len(result) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(entryKey(string(id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var e Entry
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return err
			}
			result = append(result, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	return result, nil
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	_ = s.seq.Release()
	return s.db.Close()
}

func entryKey(id string) []byte {
	return append(append([]byte{}, entryPrefix...), id...)
}

func timeKey(ts time.Time, seq uint64) []byte {
	k := make([]byte, 0, len(timePrefix)+16)
	k = append(k, timePrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(ts.UnixNano())) //nolint:gosec // timestamps are post-epoch
	return binary.BigEndian.AppendUint64(k, seq)
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
