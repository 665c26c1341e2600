package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/pkg/utils"
)

// CreateRun computes the input hash over the canonical form of the inputs
// so equivalent payloads with different key order hash identically.
func (c *Client) CreateRun(ctx context.Context, run *models.Run) error {
	run.CreatedAt = now()
	if run.InputHash == "" {
		hash, err := utils.HashCanonicalJSON(json.RawMessage(rawOrEmpty(run.InputsJSON)))
		if err != nil {
			return fmt.Errorf("failed to hash run inputs: %w", err)
		}
		run.InputHash = hash
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (id, owner_id, paragraph_id, document_id, run_type, provider, model, prompt_version,
			input_hash, inputs_json, outputs_json, token_prompt, token_completion, cost_usd, latency_ms, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.OwnerID.String(), nullUUID(run.ParagraphID), nullUUID(run.DocumentID),
		string(run.RunType), run.Provider, run.Model, run.PromptVersion,
		run.InputHash, rawOrEmpty(run.InputsJSON), rawOrEmpty(run.OutputsJSON),
		nullInt(run.TokenPrompt), nullInt(run.TokenCompletion), nullFloat(run.CostUSD),
		nullInt(run.LatencyMS), run.TraceID, run.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

const runColumns = `id, owner_id, paragraph_id, document_id, run_type, provider, model, prompt_version,
	input_hash, inputs_json, outputs_json, token_prompt, token_completion, cost_usd, latency_ms, trace_id, created_at`

func scanRun(scan func(dest ...any) error) (*models.Run, error) {
	var run models.Run
	var idStr, ownerStr, runType, inputs, outputs string
	var paragraphID, documentID sql.NullString
	var tokenPrompt, tokenCompletion, latencyMS sql.NullInt64
	var costUSD sql.NullFloat64
	var createdAt int64
	err := scan(&idStr, &ownerStr, &paragraphID, &documentID, &runType,
		&run.Provider, &run.Model, &run.PromptVersion, &run.InputHash,
		&inputs, &outputs, &tokenPrompt, &tokenCompletion, &costUSD,
		&latencyMS, &run.TraceID, &createdAt)
	if err != nil {
		return nil, err
	}
	run.ID = uuid.MustParse(idStr)
	run.OwnerID = uuid.MustParse(ownerStr)
	if run.ParagraphID, err = uuidPtr(paragraphID); err != nil {
		return nil, err
	}
	if run.DocumentID, err = uuidPtr(documentID); err != nil {
		return nil, err
	}
	run.RunType = models.RunType(runType)
	run.InputsJSON = json.RawMessage(inputs)
	run.OutputsJSON = json.RawMessage(outputs)
	run.TokenPrompt = intPtr(tokenPrompt)
	run.TokenCompletion = intPtr(tokenCompletion)
	run.CostUSD = floatPtr(costUSD)
	run.LatencyMS = intPtr(latencyMS)
	run.CreatedAt = timeFromUnix(createdAt)
	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id.String())
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

// GetLatestRunForTarget returns the newest run of the given type for a
// paragraph or document target. Unix-second timestamps collide under fast
// test writes, so rowid breaks the tie in insertion order.
func (c *Client) GetLatestRunForTarget(ctx context.Context, targetID uuid.UUID, runType models.RunType) (*models.Run, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE run_type = ? AND (paragraph_id = ? OR document_id = ?)
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		string(runType), targetID.String(), targetID.String())
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan latest run: %w", err)
	}
	return run, nil
}

// UpdateRunResult fills in the provider results on a placeholder run that
// was created when the job was submitted.
func (c *Client) UpdateRunResult(ctx context.Context, id uuid.UUID, outputs json.RawMessage,
	tokenPrompt, tokenCompletion *int, costUSD *float64, latencyMS *int) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE runs SET outputs_json = ?, token_prompt = ?, token_completion = ?, cost_usd = ?, latency_ms = ?
		 WHERE id = ?`,
		rawOrEmpty(outputs), nullInt(tokenPrompt), nullInt(tokenCompletion),
		nullFloat(costUSD), nullInt(latencyMS), id.String())
	if err != nil {
		return fmt.Errorf("failed to update run result: %w", err)
	}
	return nil
}

func (c *Client) UpdateRunInputs(ctx context.Context, id uuid.UUID, inputs json.RawMessage) error {
	hash, err := utils.HashCanonicalJSON(json.RawMessage(rawOrEmpty(inputs)))
	if err != nil {
		return fmt.Errorf("failed to hash run inputs: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`UPDATE runs SET inputs_json = ?, input_hash = ? WHERE id = ?`,
		rawOrEmpty(inputs), hash, id.String())
	if err != nil {
		return fmt.Errorf("failed to update run inputs: %w", err)
	}
	return nil
}

type RunFilter struct {
	ParagraphID *uuid.UUID
	DocumentID  *uuid.UUID
	RunType     *models.RunType
	Limit       int
}

func (c *Client) ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.ParagraphID != nil {
		query += ` AND paragraph_id = ?`
		args = append(args, filter.ParagraphID.String())
	}
	if filter.DocumentID != nil {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID.String())
	}
	if filter.RunType != nil {
		query += ` AND run_type = ?`
		args = append(args, string(*filter.RunType))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListRunsInWindow feeds the metrics aggregator: all runs whose created_at
// falls in [from, to).
func (c *Client) ListRunsInWindow(ctx context.Context, from, to int64) ([]*models.Run, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC, rowid ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs in window: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
