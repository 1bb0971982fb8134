package lease

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type leaseDoc struct {
	Stage      string    `firestore:"stage"`
	Day        string    `firestore:"day"`
	Holder     string    `firestore:"holder"`
	AcquiredAt time.Time `firestore:"acquiredAt"`
	ExpiresAt  time.Time `firestore:"expiresAt"`
}

// FirestoreLocker keeps one document per (stage, day) in a collection.
type FirestoreLocker struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
}

func NewFirestoreLocker(client *firestore.Client, collection string, ttl time.Duration) *FirestoreLocker {
	if collection == "" {
		collection = "stage_leases"
	}
	return &FirestoreLocker{client: client, collection: collection, ttl: ttl}
}

func (f *FirestoreLocker) docRef(key Key) *firestore.DocumentRef {
	id := strings.ReplaceAll(key.Stage+"_"+key.Day, "/", "-")
	return f.client.Collection(f.collection).Doc(id)
}

func (f *FirestoreLocker) Acquire(ctx context.Context, key Key) (Lease, error) {
	ref := f.docRef(key)
	now := time.Now()
	doc := leaseDoc{
		Stage:      key.Stage,
		Day:        key.Day,
		Holder:     newToken(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(f.ttl),
	}

	_, err := ref.Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		err = f.takeOverExpired(ctx, ref, key, doc)
	}
	if err != nil {
		return nil, err
	}

	return &heldLease{
		key:   key,
		token: doc.Holder,
		release: func(ctx context.Context) error {
			return f.release(ctx, ref, key, doc.Holder)
		},
	}, nil
}

// takeOverExpired replaces a lease whose holder let it expire.
func (f *FirestoreLocker) takeOverExpired(ctx context.Context, ref *firestore.DocumentRef, key Key, doc leaseDoc) error {
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return tx.Create(ref, doc)
		}
		if err != nil {
			return fmt.Errorf("failed to read lease %s: %w", key, err)
		}
		var current leaseDoc
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("failed to decode lease %s: %w", key, err)
		}
		if current.ExpiresAt.After(doc.AcquiredAt) {
			return fmt.Errorf("%w: %s by %s", ErrHeld, key, current.Holder)
		}
		return tx.Set(ref, doc)
	})
}

func (f *FirestoreLocker) release(ctx context.Context, ref *firestore.DocumentRef, key Key, holder string) error {
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var current leaseDoc
		if err := snap.DataTo(&current); err != nil {
			return err
		}
		if current.Holder != holder {
			return nil
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}

func (f *FirestoreLocker) Close() error {
	return f.client.Close()
}
