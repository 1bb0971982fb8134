package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

// PageImageFilter narrows QueryPageImages. Zero fields are ignored.
type PageImageFilter struct {
	DocumentID int64
	Identifier string
	CreatedDay string
}

// InsertPageImage records one rasterized page. The image file must already be on disk.
func (l *Ledger) InsertPageImage(ctx context.Context, rec models.PageImageRecord) error {
	if rec.Filename == "" || rec.DocumentID == 0 {
		return fmt.Errorf("page image requires a filename and a document id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Status == "" {
		rec.Status = models.StatusCompleted
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO page_images (filename, document_id, document_identifier, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Filename, rec.DocumentID, rec.DocumentIdentifier, string(rec.Status),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert page image %s: %w", rec.Filename, err)
	}
	return nil
}

// QueryPageImages lists page images matching filter in insertion order.
func (l *Ledger) QueryPageImages(ctx context.Context, filter PageImageFilter) ([]models.PageImageRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.DocumentID != 0 {
		args = append(args, filter.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if filter.Identifier != "" {
		args = append(args, filter.Identifier)
		where = append(where, fmt.Sprintf("document_identifier = $%d", len(args)))
	}
	if filter.CreatedDay != "" {
		args = append(args, filter.CreatedDay)
		where = append(where, fmt.Sprintf("substr(created_at, 1, 10) = $%d", len(args)))
	}

	query := `SELECT id, filename, document_id, document_identifier, status, created_at, updated_at FROM page_images`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query page images: %w", err)
	}
	defer rows.Close()

	var out []models.PageImageRecord
	for rows.Next() {
		var (
			rec                models.PageImageRecord
			status             string
			created, updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.DocumentID, &rec.DocumentIdentifier, &status, &created, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page image: %w", err)
		}
		rec.Status = models.Status(status)
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("page image %d has malformed created_at %q: %w", rec.ID, created, err)
		}
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("page image %d has malformed updated_at %q: %w", rec.ID, updatedAt, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page images: %w", err)
	}
	return out, nil
}
