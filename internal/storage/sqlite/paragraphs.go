package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
)

func (c *Client) CreateParagraph(ctx context.Context, p *models.Paragraph) error {
	ts := now()
	p.CreatedAt = ts
	p.UpdatedAt = ts

	allowed, err := marshalUUIDs(p.AllowedFactIDs)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO paragraphs (id, manuscript_id, section, intent, spec_json, allowed_fact_ids, status, latest_run_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.ManuscriptID.String(), p.Section, p.Intent,
		rawOrEmpty(p.SpecJSON), allowed, string(p.Status), nullUUID(p.LatestRunID),
		ts.Unix(), ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert paragraph: %w", err)
	}
	return nil
}

func (c *Client) GetParagraph(ctx context.Context, id uuid.UUID) (*models.Paragraph, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, manuscript_id, section, intent, spec_json, allowed_fact_ids, status, latest_run_id, created_at, updated_at
		 FROM paragraphs WHERE id = ?`, id.String())

	var p models.Paragraph
	var idStr, manuscriptStr, specJSON, allowed, status string
	var latestRun sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&idStr, &manuscriptStr, &p.Section, &p.Intent, &specJSON,
		&allowed, &status, &latestRun, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan paragraph: %w", err)
	}

	p.ID = uuid.MustParse(idStr)
	p.ManuscriptID = uuid.MustParse(manuscriptStr)
	p.SpecJSON = json.RawMessage(specJSON)
	if p.AllowedFactIDs, err = unmarshalUUIDs(allowed); err != nil {
		return nil, err
	}
	p.Status = models.ParagraphStatus(status)
	if p.LatestRunID, err = uuidPtr(latestRun); err != nil {
		return nil, err
	}
	p.CreatedAt = timeFromUnix(createdAt)
	p.UpdatedAt = timeFromUnix(updatedAt)
	return &p, nil
}

func (c *Client) UpdateParagraphStatus(ctx context.Context, id uuid.UUID, status models.ParagraphStatus) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE paragraphs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update paragraph status: %w", err)
	}
	return nil
}

func (c *Client) SetParagraphLatestRun(ctx context.Context, id, runID uuid.UUID) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE paragraphs SET latest_run_id = ?, updated_at = ? WHERE id = ?`,
		runID.String(), now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to set paragraph latest run: %w", err)
	}
	return nil
}

func (c *Client) UpdateParagraphAllowedFacts(ctx context.Context, id uuid.UUID, factIDs []uuid.UUID) error {
	allowed, err := marshalUUIDs(factIDs)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`UPDATE paragraphs SET allowed_fact_ids = ?, updated_at = ? WHERE id = ?`,
		allowed, now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update paragraph allowed facts: %w", err)
	}
	return nil
}

func (c *Client) ListParagraphsForManuscript(ctx context.Context, manuscriptID uuid.UUID) ([]*models.Paragraph, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, manuscript_id, section, intent, spec_json, allowed_fact_ids, status, latest_run_id, created_at, updated_at
		 FROM paragraphs WHERE manuscript_id = ? ORDER BY created_at ASC`, manuscriptID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list paragraphs: %w", err)
	}
	defer rows.Close()

	var out []*models.Paragraph
	for rows.Next() {
		var p models.Paragraph
		var idStr, manuscriptStr, specJSON, allowed, status string
		var latestRun sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&idStr, &manuscriptStr, &p.Section, &p.Intent, &specJSON,
			&allowed, &status, &latestRun, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan paragraph row: %w", err)
		}
		p.ID = uuid.MustParse(idStr)
		p.ManuscriptID = uuid.MustParse(manuscriptStr)
		p.SpecJSON = json.RawMessage(specJSON)
		if p.AllowedFactIDs, err = unmarshalUUIDs(allowed); err != nil {
			return nil, err
		}
		p.Status = models.ParagraphStatus(status)
		if p.LatestRunID, err = uuidPtr(latestRun); err != nil {
			return nil, err
		}
		p.CreatedAt = timeFromUnix(createdAt)
		p.UpdatedAt = timeFromUnix(updatedAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (c *Client) CreateSentence(ctx context.Context, s *models.Sentence) error {
	ts := now()
	s.CreatedAt = ts
	s.UpdatedAt = ts

	failureModes, err := marshalStrings(s.VerifierFailureModes)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO sentences (id, paragraph_id, sentence_order, sentence_type, text, supported, verifier_failure_modes, verifier_explanation, is_user_edited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.ParagraphID.String(), s.Order, string(s.SentenceType), s.Text,
		boolToInt(s.Supported), failureModes, nullString(s.VerifierExplanation),
		boolToInt(s.IsUserEdited), ts.Unix(), ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert sentence: %w", err)
	}
	return nil
}

func scanSentence(scan func(dest ...any) error) (*models.Sentence, error) {
	var s models.Sentence
	var idStr, paragraphStr, sentenceType, failureModes string
	var supported, isUserEdited int
	var explanation sql.NullString
	var createdAt, updatedAt int64
	err := scan(&idStr, &paragraphStr, &s.Order, &sentenceType, &s.Text,
		&supported, &failureModes, &explanation, &isUserEdited, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.ID = uuid.MustParse(idStr)
	s.ParagraphID = uuid.MustParse(paragraphStr)
	s.SentenceType = models.SentenceType(sentenceType)
	s.Supported = supported != 0
	if s.VerifierFailureModes, err = unmarshalStrings(failureModes); err != nil {
		return nil, err
	}
	s.VerifierExplanation = stringPtr(explanation)
	s.IsUserEdited = isUserEdited != 0
	s.CreatedAt = timeFromUnix(createdAt)
	s.UpdatedAt = timeFromUnix(updatedAt)
	return &s, nil
}

const sentenceColumns = `id, paragraph_id, sentence_order, sentence_type, text, supported, verifier_failure_modes, verifier_explanation, is_user_edited, created_at, updated_at`

func (c *Client) GetSentence(ctx context.Context, id uuid.UUID) (*models.Sentence, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+sentenceColumns+` FROM sentences WHERE id = ?`, id.String())
	s, err := scanSentence(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sentence: %w", err)
	}
	return s, nil
}

func (c *Client) ListSentences(ctx context.Context, paragraphID uuid.UUID) ([]*models.Sentence, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+sentenceColumns+` FROM sentences WHERE paragraph_id = ? ORDER BY sentence_order ASC`,
		paragraphID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list sentences: %w", err)
	}
	defer rows.Close()

	var out []*models.Sentence
	for rows.Next() {
		s, err := scanSentence(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sentence row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// HasSentences drives the generation idempotence check: a paragraph that
// already has sentences skips the writer call entirely.
func (c *Client) HasSentences(ctx context.Context, paragraphID uuid.UUID) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sentences WHERE paragraph_id = ?`, paragraphID.String()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count sentences: %w", err)
	}
	return count > 0, nil
}

func (c *Client) UpdateSentenceVerification(ctx context.Context, id uuid.UUID, supported bool, failureModes []string, explanation *string) error {
	modes, err := marshalStrings(failureModes)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`UPDATE sentences SET supported = ?, verifier_failure_modes = ?, verifier_explanation = ?, updated_at = ? WHERE id = ?`,
		boolToInt(supported), modes, nullString(explanation), now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update sentence verification: %w", err)
	}
	return nil
}

// UpdateSentenceText marks the sentence user-edited and wipes the prior
// verification verdict, which no longer describes the new text.
func (c *Client) UpdateSentenceText(ctx context.Context, id uuid.UUID, text string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE sentences SET text = ?, is_user_edited = 1, supported = 0,
			verifier_failure_modes = '[]', verifier_explanation = NULL, updated_at = ?
		 WHERE id = ?`,
		text, now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update sentence text: %w", err)
	}
	return nil
}

func (c *Client) CreateSentenceFactLink(ctx context.Context, link *models.SentenceFactLink) error {
	link.CreatedAt = now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sentence_fact_links (id, sentence_id, fact_id, score, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		link.ID.String(), link.SentenceID.String(), link.FactID.String(),
		nullFloat(link.Score), link.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert sentence fact link: %w", err)
	}
	return nil
}

func (c *Client) ListSentenceFactLinks(ctx context.Context, sentenceID uuid.UUID) ([]*models.SentenceFactLink, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, sentence_id, fact_id, score, created_at FROM sentence_fact_links WHERE sentence_id = ?`,
		sentenceID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list sentence fact links: %w", err)
	}
	defer rows.Close()

	var out []*models.SentenceFactLink
	for rows.Next() {
		var link models.SentenceFactLink
		var idStr, sentenceStr, factStr string
		var score sql.NullFloat64
		var createdAt int64
		if err := rows.Scan(&idStr, &sentenceStr, &factStr, &score, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan sentence fact link row: %w", err)
		}
		link.ID = uuid.MustParse(idStr)
		link.SentenceID = uuid.MustParse(sentenceStr)
		link.FactID = uuid.MustParse(factStr)
		link.Score = floatPtr(score)
		link.CreatedAt = timeFromUnix(createdAt)
		out = append(out, &link)
	}
	return out, rows.Err()
}
