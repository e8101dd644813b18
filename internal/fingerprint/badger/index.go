// Package badger provides a BadgerDB-backed fingerprint index.
package badger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

const keyPrefix = "fp:"

// Index is a persistent content-fingerprint set with an atomic
// mark-if-new operation. It is the dedup backbone of the normalizer.
type Index struct {
	db     *badger.DB
	logger *zap.Logger
}

// zapBadgerLogger adapts zap to the badger.Logger interface.
type zapBadgerLogger struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*zapBadgerLogger)(nil)

func (l *zapBadgerLogger) Errorf(msg string, args ...any)   { l.logger.Errorf(msg, args...) }
func (l *zapBadgerLogger) Warningf(msg string, args ...any) { l.logger.Warnf(msg, args...) }
func (l *zapBadgerLogger) Infof(msg string, args ...any)    { l.logger.Debugf(msg, args...) }
func (l *zapBadgerLogger) Debugf(msg string, args ...any)   { l.logger.Debugf(msg, args...) }

// Open opens (or creates) the index at path. With inMemory set the index
// lives only for the process lifetime, which tests rely on.
func Open(path string, inMemory bool, logger *zap.Logger) (*Index, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create fingerprint dir %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Compression = options.None
	opts.Logger = &zapBadgerLogger{logger: logger.Sugar()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint index: %w", err)
	}
	return &Index{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (i *Index) Close() error {
	if err := i.db.Close(); err != nil {
		return fmt.Errorf("close fingerprint index: %w", err)
	}
	return nil
}

// Seen reports whether fingerprint is already present.
func (i *Index) Seen(_ context.Context, fingerprint string) (bool, error) {
	var seen bool
	err := i.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(fingerprint))
		if err == nil {
			seen = true
			return nil
		}
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return seen, nil
}

// MarkIfNew records fingerprint and reports true when it was absent.
// The check and the write share one transaction, so within a single
// process the mark is atomic.
func (i *Index) MarkIfNew(_ context.Context, fingerprint string) (bool, error) {
	var marked bool
	err := i.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(fingerprint))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		marked = true
		return txn.Set(key(fingerprint), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return false, fmt.Errorf("mark fingerprint: %w", err)
	}
	return marked, nil
}

func key(fingerprint string) []byte {
	return []byte(keyPrefix + fingerprint)
}
