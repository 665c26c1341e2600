package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
)

func (c *Client) CreateManuscript(ctx context.Context, m *models.Manuscript) error {
	m.CreatedAt = now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO manuscripts (id, owner_id, title, created_at) VALUES (?, ?, ?, ?)`,
		m.ID.String(), m.OwnerID.String(), m.Title, m.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert manuscript: %w", err)
	}
	return nil
}

func (c *Client) GetManuscript(ctx context.Context, id uuid.UUID) (*models.Manuscript, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at FROM manuscripts WHERE id = ?`, id.String())

	var m models.Manuscript
	var idStr, ownerStr string
	var createdAt int64
	err := row.Scan(&idStr, &ownerStr, &m.Title, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan manuscript: %w", err)
	}
	m.ID = uuid.MustParse(idStr)
	m.OwnerID = uuid.MustParse(ownerStr)
	m.CreatedAt = timeFromUnix(createdAt)
	return &m, nil
}

func (c *Client) ListManuscriptsForOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Manuscript, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, owner_id, title, created_at FROM manuscripts WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list manuscripts: %w", err)
	}
	defer rows.Close()

	var out []*models.Manuscript
	for rows.Next() {
		var m models.Manuscript
		var idStr, ownerStr string
		var createdAt int64
		if err := rows.Scan(&idStr, &ownerStr, &m.Title, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan manuscript row: %w", err)
		}
		m.ID = uuid.MustParse(idStr)
		m.OwnerID = uuid.MustParse(ownerStr)
		m.CreatedAt = timeFromUnix(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ListManuscriptDocumentIDs returns the documents attached to a manuscript,
// which bounds the corpus the writer stage may retrieve from.
func (c *Client) ListManuscriptDocumentIDs(ctx context.Context, manuscriptID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT document_id FROM manuscript_documents WHERE manuscript_id = ?`,
		manuscriptID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list manuscript documents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("failed to scan manuscript document row: %w", err)
		}
		ids = append(ids, uuid.MustParse(idStr))
	}
	return ids, rows.Err()
}
