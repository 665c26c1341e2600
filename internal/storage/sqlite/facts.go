package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
)

func (c *Client) CreateSpan(ctx context.Context, span *models.Span) error {
	span.CreatedAt = now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO spans (id, document_id, page, start_char, end_char, quote, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		span.ID.String(), span.DocumentID.String(),
		nullInt(span.Page), nullInt(span.StartChar), nullInt(span.EndChar),
		nullString(span.Quote), span.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert span: %w", err)
	}
	return nil
}

func (c *Client) GetSpan(ctx context.Context, id uuid.UUID) (*models.Span, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, document_id, page, start_char, end_char, quote, created_at FROM spans WHERE id = ?`,
		id.String())

	var span models.Span
	var idStr, docStr string
	var page, startChar, endChar sql.NullInt64
	var quote sql.NullString
	var createdAt int64
	err := row.Scan(&idStr, &docStr, &page, &startChar, &endChar, &quote, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan span: %w", err)
	}
	span.ID = uuid.MustParse(idStr)
	span.DocumentID = uuid.MustParse(docStr)
	span.Page = intPtr(page)
	span.StartChar = intPtr(startChar)
	span.EndChar = intPtr(endChar)
	span.Quote = stringPtr(quote)
	span.CreatedAt = timeFromUnix(createdAt)
	return &span, nil
}

func (c *Client) CreateFact(ctx context.Context, fact *models.Fact) error {
	fact.CreatedAt = now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO facts (id, owner_id, document_id, span_id, source_type, content, qualifiers, confidence, is_uncertain, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fact.ID.String(), fact.OwnerID.String(),
		nullUUID(fact.DocumentID), nullUUID(fact.SpanID),
		string(fact.SourceType), fact.Content, rawOrEmpty(fact.Qualifiers),
		fact.Confidence, boolToInt(fact.IsUncertain), string(fact.CreatedBy),
		fact.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	return nil
}

const factColumns = `id, owner_id, document_id, span_id, source_type, content, qualifiers, confidence, is_uncertain, created_by, created_at`

func scanFact(scan func(dest ...any) error) (*models.Fact, error) {
	var fact models.Fact
	var idStr, ownerStr, sourceType, qualifiers, createdBy string
	var docID, spanID sql.NullString
	var isUncertain int
	var createdAt int64
	err := scan(&idStr, &ownerStr, &docID, &spanID, &sourceType, &fact.Content,
		&qualifiers, &fact.Confidence, &isUncertain, &createdBy, &createdAt)
	if err != nil {
		return nil, err
	}
	fact.ID = uuid.MustParse(idStr)
	fact.OwnerID = uuid.MustParse(ownerStr)
	var perr error
	if fact.DocumentID, perr = uuidPtr(docID); perr != nil {
		return nil, perr
	}
	if fact.SpanID, perr = uuidPtr(spanID); perr != nil {
		return nil, perr
	}
	fact.SourceType = models.SourceType(sourceType)
	fact.Qualifiers = json.RawMessage(qualifiers)
	fact.IsUncertain = isUncertain != 0
	fact.CreatedBy = models.CreatedBy(createdBy)
	fact.CreatedAt = timeFromUnix(createdAt)
	return &fact, nil
}

func (c *Client) GetFact(ctx context.Context, id uuid.UUID) (*models.Fact, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE id = ?`, id.String())
	fact, err := scanFact(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fact: %w", err)
	}
	return fact, nil
}

// ListFactsByIDs is owner-scoped: facts belonging to other owners are
// silently excluded so paragraph allow-lists cannot cross tenants.
func (c *Client) ListFactsByIDs(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]*models.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID.String())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id.String())
	}

	query := `SELECT ` + factColumns + ` FROM facts WHERE owner_id = ? AND id IN (` +
		strings.Join(placeholders, ",") + `) ORDER BY created_at ASC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts by ids: %w", err)
	}
	defer rows.Close()

	var facts []*models.Fact
	for rows.Next() {
		fact, err := scanFact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact row: %w", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func (c *Client) ListFactsForDocument(ctx context.Context, documentID uuid.UUID) ([]*models.Fact, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE document_id = ? ORDER BY created_at ASC`,
		documentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list facts for document: %w", err)
	}
	defer rows.Close()

	var facts []*models.Fact
	for rows.Next() {
		fact, err := scanFact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact row: %w", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func (c *Client) ListFactsForOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Fact, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE owner_id = ? ORDER BY created_at ASC`,
		ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list facts for owner: %w", err)
	}
	defer rows.Close()

	var facts []*models.Fact
	for rows.Next() {
		fact, err := scanFact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact row: %w", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func (c *Client) DeleteFact(ctx context.Context, ownerID, id uuid.UUID) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM facts WHERE id = ? AND owner_id = ?`, id.String(), ownerID.String())
	if err != nil {
		return false, fmt.Errorf("failed to delete fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) HasFactsForDocument(ctx context.Context, documentID uuid.UUID) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM facts WHERE document_id = ?`, documentID.String()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count facts for document: %w", err)
	}
	return count > 0, nil
}

// UpsertFactEmbedding keeps one embedding row per fact, replacing the
// previous row when the fact is re-embedded under a new model.
func (c *Client) UpsertFactEmbedding(ctx context.Context, emb *models.FactEmbedding) error {
	emb.CreatedAt = now()
	vector, err := json.Marshal(emb.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding vector: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO fact_embeddings (id, fact_id, vector_id, embedding_model, namespace, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fact_id) DO UPDATE SET
			vector_id = excluded.vector_id,
			embedding_model = excluded.embedding_model,
			namespace = excluded.namespace,
			embedding = excluded.embedding,
			created_at = excluded.created_at`,
		emb.ID.String(), emb.FactID.String(), emb.VectorID, emb.EmbeddingModel,
		emb.Namespace, string(vector), emb.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert fact embedding: %w", err)
	}
	return nil
}

func (c *Client) DeleteFactEmbedding(ctx context.Context, factID uuid.UUID) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM fact_embeddings WHERE fact_id = ?`, factID.String())
	if err != nil {
		return fmt.Errorf("failed to delete fact embedding: %w", err)
	}
	return nil
}

// ListFactEmbeddings returns the embeddings for a namespace, optionally
// restricted to an allow-list of fact ids.
func (c *Client) ListFactEmbeddings(ctx context.Context, namespace string, allowedFactIDs []uuid.UUID) ([]*models.FactEmbedding, error) {
	query := `SELECT id, fact_id, vector_id, embedding_model, namespace, embedding, created_at
		FROM fact_embeddings WHERE namespace = ?`
	args := []any{namespace}
	if len(allowedFactIDs) > 0 {
		placeholders := make([]string, len(allowedFactIDs))
		for i, id := range allowedFactIDs {
			placeholders[i] = "?"
			args = append(args, id.String())
		}
		query += ` AND fact_id IN (` + strings.Join(placeholders, ",") + `)`
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fact embeddings: %w", err)
	}
	defer rows.Close()

	var out []*models.FactEmbedding
	for rows.Next() {
		var emb models.FactEmbedding
		var idStr, factStr string
		var vector sql.NullString
		var createdAt int64
		if err := rows.Scan(&idStr, &factStr, &emb.VectorID, &emb.EmbeddingModel,
			&emb.Namespace, &vector, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan fact embedding row: %w", err)
		}
		emb.ID = uuid.MustParse(idStr)
		emb.FactID = uuid.MustParse(factStr)
		if vector.Valid && vector.String != "" {
			if err := json.Unmarshal([]byte(vector.String), &emb.Embedding); err != nil {
				return nil, fmt.Errorf("failed to unmarshal embedding vector: %w", err)
			}
		}
		emb.CreatedAt = timeFromUnix(createdAt)
		out = append(out, &emb)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
