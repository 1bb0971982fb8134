package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

const timestampLayout = models.TimestampLayout

const documentColumns = `id, identifier, local_path, file_size, page_count, status, seen_day, first_seen_at, updated_at, error_details`

// DocumentFilter narrows QueryDocuments. Zero fields are ignored.
type DocumentFilter struct {
	Identifier string
	SeenDay    string
	UpdatedDay string
	Statuses   []models.Status
}

// UpsertDocument registers a document. A row already present for the same
// (identifier, seen day) is left untouched and inserted is false.
func (l *Ledger) UpsertDocument(ctx context.Context, rec models.DocumentRecord) (bool, error) {
	if rec.Identifier == "" {
		return false, fmt.Errorf("document identifier must not be empty")
	}
	if rec.FirstSeenAt.IsZero() {
		rec.FirstSeenAt = time.Now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.FirstSeenAt
	}
	if rec.SeenDay == "" {
		rec.SeenDay = models.Day(rec.FirstSeenAt)
	}
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if !rec.Status.Valid() {
		return false, fmt.Errorf("unknown status %q", rec.Status)
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO documents (identifier, local_path, file_size, page_count, status, seen_day, first_seen_at, updated_at, error_details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (identifier, seen_day) DO NOTHING`,
		rec.Identifier, rec.LocalPath, rec.FileSize, rec.PageCount, string(rec.Status),
		rec.SeenDay, formatTime(rec.FirstSeenAt), formatTime(rec.UpdatedAt), rec.ErrorDetails,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert document %s: %w", rec.Identifier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result for %s: %w", rec.Identifier, err)
	}
	return n > 0, nil
}

// FindDocument returns the record registered for identifier on day.
func (l *Ledger) FindDocument(ctx context.Context, identifier, day string) (*models.DocumentRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE identifier = $1 AND seen_day = $2`,
		identifier, day,
	)
	return scanDocument(row)
}

// LatestDocument returns the most recently seen record for identifier.
func (l *Ledger) LatestDocument(ctx context.Context, identifier string) (*models.DocumentRecord, error) {
	return latestDocument(ctx, l.db, identifier)
}

func latestDocument(ctx context.Context, q querier, identifier string) (*models.DocumentRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE identifier = $1 ORDER BY seen_day DESC, id DESC LIMIT 1`,
		identifier,
	)
	return scanDocument(row)
}

func documentByID(ctx context.Context, q querier, id int64) (*models.DocumentRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// TransitionDocument moves the latest record for identifier to next.
func (l *Ledger) TransitionDocument(ctx context.Context, identifier string, next models.Status, at time.Time) error {
	return l.TransitionDocumentWithDetails(ctx, identifier, next, at, "")
}

// TransitionDocumentWithDetails is TransitionDocument that also records error details.
// Empty details keep whatever was stored before.
func (l *Ledger) TransitionDocumentWithDetails(ctx context.Context, identifier string, next models.Status, at time.Time, details string) error {
	rec, err := latestDocument(ctx, l.db, identifier)
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", identifier, next, err)
	}
	return transition(ctx, l.db, rec, next, at, details)
}

// TransitionRecord moves one specific record, checked against its current stored status.
func (l *Ledger) TransitionRecord(ctx context.Context, id int64, next models.Status, at time.Time, details string) error {
	rec, err := documentByID(ctx, l.db, id)
	if err != nil {
		return fmt.Errorf("transition document %d to %s: %w", id, next, err)
	}
	return transition(ctx, l.db, rec, next, at, details)
}

// TransitionDocuments moves every listed document to next inside one transaction.
// Either all rows change or none do.
func (l *Ledger) TransitionDocuments(ctx context.Context, ids []int64, next models.Status, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var changed int64
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			rec, err := documentByID(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("transition document %d to %s: %w", id, next, err)
			}
			if err := transition(ctx, tx, rec, next, at, ""); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func transition(ctx context.Context, q querier, rec *models.DocumentRecord, next models.Status, at time.Time, details string) error {
	if !rec.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s (%s) %s -> %s", ErrInvalidTransition, rec.Identifier, rec.SeenDay, rec.Status, next)
	}

	var (
		res sql.Result
		err error
	)
	if details == "" {
		res, err = q.ExecContext(ctx,
			`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			string(next), formatTime(at), rec.ID, string(rec.Status),
		)
	} else {
		res, err = q.ExecContext(ctx,
			`UPDATE documents SET status = $1, updated_at = $2, error_details = $3 WHERE id = $4 AND status = $5`,
			string(next), formatTime(at), details, rec.ID, string(rec.Status),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update status of %s: %w", rec.Identifier, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for %s: %w", rec.Identifier, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s changed status concurrently", ErrInvalidTransition, rec.Identifier)
	}
	return nil
}

// SetPageCount records the number of pages found in a document.
func (l *Ledger) SetPageCount(ctx context.Context, id int64, pages int) error {
	res, err := l.db.ExecContext(ctx, `UPDATE documents SET page_count = $1 WHERE id = $2`, pages, id)
	if err != nil {
		return fmt.Errorf("failed to set page count of document %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set page count of document %d: %w", id, ErrNotFound)
	}
	return nil
}

// QueryDocuments lists documents matching filter, oldest first.
func (l *Ledger) QueryDocuments(ctx context.Context, filter DocumentFilter) ([]models.DocumentRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Identifier != "" {
		add("identifier = $%d", filter.Identifier)
	}
	if filter.SeenDay != "" {
		add("seen_day = $%d", filter.SeenDay)
	}
	if filter.UpdatedDay != "" {
		add("substr(updated_at, 1, 10) = $%d", filter.UpdatedDay)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			args = append(args, string(s))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// RetentionCandidates lists done documents whose earliest page image (or seen day, when
// there is none) falls on or before cutoffDay. ArchiveDay is the seen day, since the day
// folders a document moves through are keyed by it.
func (l *Ledger) RetentionCandidates(ctx context.Context, cutoffDay string) ([]models.RetentionCandidate, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT d.id, d.identifier, d.seen_day AS archive_day
		 FROM documents d
		 LEFT JOIN page_images p ON p.document_id = d.id
		 WHERE d.status = $1
		 GROUP BY d.id, d.identifier, d.seen_day
		 HAVING COALESCE(MIN(substr(p.created_at, 1, 10)), d.seen_day) <= $2
		 ORDER BY archive_day, d.identifier`,
		string(models.StatusDone), cutoffDay,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query retention candidates: %w", err)
	}
	defer rows.Close()

	var out []models.RetentionCandidate
	for rows.Next() {
		var c models.RetentionCandidate
		if err := rows.Scan(&c.DocumentID, &c.Identifier, &c.ArchiveDay); err != nil {
			return nil, fmt.Errorf("failed to scan retention candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate retention candidates: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.DocumentRecord, error) {
	var (
		doc                  models.DocumentRecord
		status               string
		firstSeen, updatedAt string
	)
	err := row.Scan(
		&doc.ID, &doc.Identifier, &doc.LocalPath, &doc.FileSize, &doc.PageCount,
		&status, &doc.SeenDay, &firstSeen, &updatedAt, &doc.ErrorDetails,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.Status = models.Status(status)
	if doc.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return nil, fmt.Errorf("document %d has malformed first_seen_at %q: %w", doc.ID, firstSeen, err)
	}
	if doc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("document %d has malformed updated_at %q: %w", doc.ID, updatedAt, err)
	}
	return &doc, nil
}
