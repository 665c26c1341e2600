package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
)

func (c *Client) CreateDocument(ctx context.Context, doc *models.Document) error {
	ts := now()
	doc.CreatedAt = ts
	doc.UpdatedAt = ts

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, source_type, filename, content_hash, storage_uri, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID.String(), doc.OwnerID.String(), string(doc.SourceType), doc.Filename,
		doc.ContentHash, doc.StorageURI, string(doc.Status), ts.Unix(), ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (c *Client) scanDocument(row *sql.Row) (*models.Document, error) {
	var doc models.Document
	var id, ownerID, sourceType, status string
	var createdAt, updatedAt int64

	err := row.Scan(&id, &ownerID, &sourceType, &doc.Filename, &doc.ContentHash,
		&doc.StorageURI, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.ID = uuid.MustParse(id)
	doc.OwnerID = uuid.MustParse(ownerID)
	doc.SourceType = models.SourceType(sourceType)
	doc.Status = models.DocumentStatus(status)
	doc.CreatedAt = timeFromUnix(createdAt)
	doc.UpdatedAt = timeFromUnix(updatedAt)
	return &doc, nil
}

const documentColumns = `id, owner_id, source_type, filename, content_hash, storage_uri, status, created_at, updated_at`

// GetDocument returns nil without error when the document does not exist;
// the task runners rely on that to abort silently on deleted targets.
func (c *Client) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id.String())
	return c.scanDocument(row)
}

func (c *Client) GetDocumentForOwner(ctx context.Context, ownerID, id uuid.UUID) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND owner_id = ?`,
		id.String(), ownerID.String())
	return c.scanDocument(row)
}

func (c *Client) GetDocumentByHash(ctx context.Context, ownerID uuid.UUID, contentHash string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ? AND content_hash = ?`,
		ownerID.String(), contentHash)
	return c.scanDocument(row)
}

func (c *Client) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

func (c *Client) UpdateDocumentStorageURI(ctx context.Context, id uuid.UUID, storageURI string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE documents SET storage_uri = ?, updated_at = ? WHERE id = ?`,
		storageURI, now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update document storage uri: %w", err)
	}
	return nil
}

func (c *Client) ListDocumentsForOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Document, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var id, owner, sourceType, status string
		var createdAt, updatedAt int64
		if err := rows.Scan(&id, &owner, &sourceType, &doc.Filename, &doc.ContentHash,
			&doc.StorageURI, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		doc.ID = uuid.MustParse(id)
		doc.OwnerID = uuid.MustParse(owner)
		doc.SourceType = models.SourceType(sourceType)
		doc.Status = models.DocumentStatus(status)
		doc.CreatedAt = timeFromUnix(createdAt)
		doc.UpdatedAt = timeFromUnix(updatedAt)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (c *Client) AttachDocumentToManuscript(ctx context.Context, manuscriptID, documentID uuid.UUID) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO manuscript_documents (manuscript_id, document_id) VALUES (?, ?)`,
		manuscriptID.String(), documentID.String())
	if err != nil {
		return fmt.Errorf("failed to attach document to manuscript: %w", err)
	}
	return nil
}
