package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// withTx runs fn inside a transaction so the multi-row writes of a single
// task step commit atomically.
func (c *Client) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS manuscripts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_manuscripts_owner ON manuscripts(owner_id);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		storage_uri TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(owner_id, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS manuscript_documents (
		manuscript_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		PRIMARY KEY (manuscript_id, document_id),
		FOREIGN KEY (manuscript_id) REFERENCES manuscripts(id) ON DELETE CASCADE,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS spans (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		page INTEGER,
		start_char INTEGER,
		end_char INTEGER,
		quote TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_spans_document ON spans(document_id);

	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		document_id TEXT,
		span_id TEXT,
		source_type TEXT NOT NULL,
		content TEXT NOT NULL,
		qualifiers TEXT NOT NULL DEFAULT '{}',
		confidence REAL NOT NULL,
		is_uncertain INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_facts_owner ON facts(owner_id);
	CREATE INDEX IF NOT EXISTS idx_facts_document ON facts(document_id);

	CREATE TABLE IF NOT EXISTS fact_embeddings (
		id TEXT PRIMARY KEY,
		fact_id TEXT NOT NULL UNIQUE,
		vector_id TEXT NOT NULL,
		embedding_model TEXT NOT NULL,
		namespace TEXT NOT NULL,
		embedding TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (fact_id) REFERENCES facts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_namespace ON fact_embeddings(namespace);

	CREATE TABLE IF NOT EXISTS paragraphs (
		id TEXT PRIMARY KEY,
		manuscript_id TEXT NOT NULL,
		section TEXT NOT NULL,
		intent TEXT NOT NULL,
		spec_json TEXT NOT NULL,
		allowed_fact_ids TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		latest_run_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (manuscript_id) REFERENCES manuscripts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_paragraphs_manuscript ON paragraphs(manuscript_id);
	CREATE INDEX IF NOT EXISTS idx_paragraphs_status ON paragraphs(status);
	CREATE INDEX IF NOT EXISTS idx_paragraphs_created ON paragraphs(created_at);

	CREATE TABLE IF NOT EXISTS sentences (
		id TEXT PRIMARY KEY,
		paragraph_id TEXT NOT NULL,
		sentence_order INTEGER NOT NULL,
		sentence_type TEXT NOT NULL,
		text TEXT NOT NULL,
		supported INTEGER NOT NULL DEFAULT 0,
		verifier_failure_modes TEXT NOT NULL DEFAULT '[]',
		verifier_explanation TEXT,
		is_user_edited INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(paragraph_id, sentence_order),
		FOREIGN KEY (paragraph_id) REFERENCES paragraphs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sentences_paragraph ON sentences(paragraph_id);
	CREATE INDEX IF NOT EXISTS idx_sentences_created ON sentences(created_at);

	CREATE TABLE IF NOT EXISTS sentence_fact_links (
		id TEXT PRIMARY KEY,
		sentence_id TEXT NOT NULL,
		fact_id TEXT NOT NULL,
		score REAL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (sentence_id) REFERENCES sentences(id) ON DELETE CASCADE,
		FOREIGN KEY (fact_id) REFERENCES facts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_links_sentence ON sentence_fact_links(sentence_id);
	CREATE INDEX IF NOT EXISTS idx_links_fact ON sentence_fact_links(fact_id);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		paragraph_id TEXT,
		document_id TEXT,
		run_type TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_version TEXT NOT NULL,
		input_hash TEXT NOT NULL,
		inputs_json TEXT NOT NULL DEFAULT '{}',
		outputs_json TEXT NOT NULL DEFAULT '{}',
		token_prompt INTEGER,
		token_completion INTEGER,
		cost_usd REAL,
		latency_ms INTEGER,
		trace_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_paragraph ON runs(paragraph_id);
	CREATE INDEX IF NOT EXISTS idx_runs_document ON runs(document_id);
	CREATE INDEX IF NOT EXISTS idx_runs_type ON runs(run_type);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		job_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress TEXT NOT NULL DEFAULT '{}',
		error TEXT,
		trace_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT PRIMARY KEY,
		job_id TEXT,
		task_name TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}',
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_job ON dead_letters(job_id);

	CREATE TABLE IF NOT EXISTS metrics_snapshots (
		id TEXT PRIMARY KEY,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		scope TEXT NOT NULL DEFAULT 'global',
		metrics_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alert_events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		value REAL,
		threshold REAL,
		context_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_created ON alert_events(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}
