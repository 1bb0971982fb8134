// Package lease keeps two invocations of the same stage from working on the same day at once.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/pdfrasterflow/internal/config"
	"github.com/Lllllllleong/pdfrasterflow/internal/gcp"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
)

// ErrHeld is returned by Acquire when a live lease belongs to someone else.
var ErrHeld = ledger.ErrLeaseHeld

// DefaultTTL bounds how long a crashed holder can block the next run.
const DefaultTTL = 2 * time.Hour

// Key identifies one stage run.
type Key struct {
	Stage string
	Day   string // YYYY-MM-DD
}

func (k Key) String() string {
	return k.Stage + "/" + k.Day
}

// Lease is a held claim on a Key.
type Lease interface {
	Key() Key
	Token() string
	Release(ctx context.Context) error
}

// Locker hands out leases.
type Locker interface {
	Acquire(ctx context.Context, key Key) (Lease, error)
	Close() error
}

// Store is the part of the ledger the ledger-backed locker needs.
type Store interface {
	TryLease(ctx context.Context, stage, day, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, stage, day, holder string) error
}

// New builds the locker selected by cfg.Driver. store backs the "ledger" driver.
func New(ctx context.Context, cfg config.LeaseConfig, store Store) (Locker, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Driver {
	case "", "ledger":
		if store == nil {
			return nil, fmt.Errorf("ledger lease requires an open ledger")
		}
		return NewLedgerLocker(store, ttl), nil
	case "redis":
		return NewRedisLocker(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, ttl)
	case "firestore":
		client, err := gcp.NewFirestoreClient(ctx, cfg.FirestoreProject, cfg.FirestoreDatabase)
		if err != nil {
			return nil, err
		}
		return NewFirestoreLocker(client, cfg.FirestoreCollection, ttl), nil
	case "none":
		return NopLocker{}, nil
	default:
		return nil, fmt.Errorf("unsupported lease driver: %s", cfg.Driver)
	}
}

func newToken() string {
	return uuid.NewString()
}

type heldLease struct {
	key     Key
	token   string
	release func(ctx context.Context) error
}

func (h *heldLease) Key() Key      { return h.key }
func (h *heldLease) Token() string { return h.token }

func (h *heldLease) Release(ctx context.Context) error {
	if h.release == nil {
		return nil
	}
	err := h.release(ctx)
	h.release = nil
	return err
}

// LedgerLocker stores leases in the ledger's stage_leases table.
type LedgerLocker struct {
	store Store
	ttl   time.Duration
}

func NewLedgerLocker(store Store, ttl time.Duration) *LedgerLocker {
	return &LedgerLocker{store: store, ttl: ttl}
}

func (l *LedgerLocker) Acquire(ctx context.Context, key Key) (Lease, error) {
	token := newToken()
	if err := l.store.TryLease(ctx, key.Stage, key.Day, token, l.ttl); err != nil {
		return nil, err
	}
	return &heldLease{
		key:   key,
		token: token,
		release: func(ctx context.Context) error {
			return l.store.ReleaseLease(ctx, key.Stage, key.Day, token)
		},
	}, nil
}

// Close is a no-op; the ledger is closed by its owner.
func (l *LedgerLocker) Close() error { return nil }

// NopLocker grants every lease. Used when runs are serialized by the scheduler alone.
type NopLocker struct{}

func (NopLocker) Acquire(_ context.Context, key Key) (Lease, error) {
	return &heldLease{key: key, token: newToken()}, nil
}

func (NopLocker) Close() error { return nil }
