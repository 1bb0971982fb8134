package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

func TestPostgresLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ledger_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	l, err := Open(ctx, Config{Driver: DriverPostgres, DSN: dsn})
	require.NoError(t, err)
	defer l.Close()

	seen := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	inserted, err := l.UpsertDocument(ctx, models.DocumentRecord{Identifier: "invoice.pdf", FirstSeenAt: seen})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = l.UpsertDocument(ctx, models.DocumentRecord{Identifier: "invoice.pdf", FirstSeenAt: seen.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, l.TransitionDocument(ctx, "invoice.pdf", models.StatusProcessing, seen))
	doc, err := l.FindDocument(ctx, "invoice.pdf", "2024-03-01")
	require.NoError(t, err)
	require.NoError(t, l.InsertPageImage(ctx, models.PageImageRecord{
		Filename: "invoice_1.jpg", DocumentID: doc.ID, DocumentIdentifier: doc.Identifier, CreatedAt: seen,
	}))
	require.NoError(t, l.TransitionDocument(ctx, "invoice.pdf", models.StatusCompleted, seen))
	require.NoError(t, l.TransitionDocument(ctx, "invoice.pdf", models.StatusDone, seen))

	cands, err := l.RetentionCandidates(ctx, "2024-03-01")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "2024-03-01", cands[0].ArchiveDay)

	n, err := l.TransitionDocuments(ctx, []int64{cands[0].DocumentID}, models.StatusDeleted, seen)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, l.TryLease(ctx, "convert", "2024-03-01", "a", time.Hour))
	assert.ErrorIs(t, l.TryLease(ctx, "convert", "2024-03-01", "b", time.Hour), ErrLeaseHeld)
}
