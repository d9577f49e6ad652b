package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("record was modified concurrently")
	ErrDuplicate       = errors.New("duplicate record")
	ErrBackend         = errors.New("backend unavailable")
)

// Patch is a column -> value map applied by Update calls.
type Patch map[string]interface{}

// Store is the gorm backed persistence boundary. A Store obtained inside
// InTx is bound to that transaction.
type Store struct {
	db           *gorm.DB
	inTx         bool
	readAttempts uint
	retryWait    time.Duration
}

type Option func(*Store)

// WithReadAttempts sets how many times idempotent reads are tried when the
// backend fails. Writes are never retried.
func WithReadAttempts(n uint) Option {
	return func(s *Store) {
		if n > 0 {
			s.readAttempts = n
		}
	}
}

func WithRetryWait(d time.Duration) Option {
	return func(s *Store) { s.retryWait = d }
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, readAttempts: 2, retryWait: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// InTx runs fn inside one transaction. Everything fn writes commits
// together or not at all.
func (s *Store) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Store{db: tx, inTx: true, readAttempts: s.readAttempts, retryWait: s.retryWait})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return mapErr(err)
	}
	return err
}

// Ping checks backend reachability.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return mapErr(err)
	}
	return mapErr(sqlDB.PingContext(ctx))
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// read runs an idempotent query, retrying backend failures with backoff.
// Inside a transaction a failure aborts the transaction, so no retry.
func (s *Store) read(ctx context.Context, fn func(db *gorm.DB) error) error {
	if s.inTx || s.readAttempts <= 1 {
		return mapErr(fn(s.conn(ctx)))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryWait
	b.MaxInterval = 4 * s.retryWait

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := mapErr(fn(s.conn(ctx)))
		if err != nil && !errors.Is(err, ErrBackend) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.readAttempts))
	return err
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrDuplicate), errors.Is(err, ErrBackend):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
}
