package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocumentUploaded         DocumentStatus = "UPLOADED"
	DocumentExtractingFacts  DocumentStatus = "EXTRACTING_FACTS"
	DocumentFactsReady       DocumentStatus = "FACTS_READY"
	DocumentFailedParse      DocumentStatus = "FAILED_PARSE"
	DocumentFailedExtraction DocumentStatus = "FAILED_EXTRACTION"
)

type ParagraphStatus string

const (
	ParagraphCreated          ParagraphStatus = "CREATED"
	ParagraphGenerating       ParagraphStatus = "GENERATING"
	ParagraphPendingVerify    ParagraphStatus = "PENDING_VERIFY"
	ParagraphVerified         ParagraphStatus = "VERIFIED"
	ParagraphNeedsRevision    ParagraphStatus = "NEEDS_REVISION"
	ParagraphFailedGeneration ParagraphStatus = "FAILED_GENERATION"
)

type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

type JobType string

const (
	JobExtractFacts        JobType = "EXTRACT_FACTS"
	JobGenerateParagraph   JobType = "GENERATE_PARAGRAPH"
	JobVerifyParagraph     JobType = "VERIFY_PARAGRAPH"
	JobRegenerateSentences JobType = "REGENERATE_SENTENCES"
)

type RunType string

const (
	RunLibrarian RunType = "LIBRARIAN"
	RunWriter    RunType = "WRITER"
	RunVerifier  RunType = "VERIFIER"
	RunRewriter  RunType = "REWRITER"
)

type SourceType string

const (
	SourcePDF    SourceType = "PDF"
	SourceManual SourceType = "MANUAL"
)

type CreatedBy string

const (
	CreatedByLibrarian CreatedBy = "LIBRARIAN"
	CreatedByUser      CreatedBy = "USER"
)

type SentenceType string

const (
	SentenceTopic      SentenceType = "topic"
	SentenceEvidence   SentenceType = "evidence"
	SentenceConclusion SentenceType = "conclusion"
	SentenceTransition SentenceType = "transition"
)

type Document struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	SourceType  SourceType
	Filename    string
	ContentHash string
	StorageURI  string
	Status      DocumentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Span struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Page       *int
	StartChar  *int
	EndChar    *int
	Quote      *string
	CreatedAt  time.Time
}

type Fact struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	DocumentID  *uuid.UUID
	SpanID      *uuid.UUID
	SourceType  SourceType
	Content     string
	Qualifiers  json.RawMessage
	Confidence  float64
	IsUncertain bool
	CreatedBy   CreatedBy
	CreatedAt   time.Time
}

type FactEmbedding struct {
	ID             uuid.UUID
	FactID         uuid.UUID
	VectorID       string
	EmbeddingModel string
	Namespace      string
	Embedding      []float32
	CreatedAt      time.Time
}

type Manuscript struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Title     string
	CreatedAt time.Time
}

type ManuscriptDocument struct {
	ManuscriptID uuid.UUID
	DocumentID   uuid.UUID
}

type Paragraph struct {
	ID             uuid.UUID
	ManuscriptID   uuid.UUID
	Section        string
	Intent         string
	SpecJSON       json.RawMessage
	AllowedFactIDs []uuid.UUID
	Status         ParagraphStatus
	LatestRunID    *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Sentence struct {
	ID                   uuid.UUID
	ParagraphID          uuid.UUID
	Order                int
	SentenceType         SentenceType
	Text                 string
	Supported            bool
	VerifierFailureModes []string
	VerifierExplanation  *string
	IsUserEdited         bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type SentenceFactLink struct {
	ID         uuid.UUID
	SentenceID uuid.UUID
	FactID     uuid.UUID
	Score      *float64
	CreatedAt  time.Time
}

type Run struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	ParagraphID     *uuid.UUID
	DocumentID      *uuid.UUID
	RunType         RunType
	Provider        string
	Model           string
	PromptVersion   string
	InputHash       string
	InputsJSON      json.RawMessage
	OutputsJSON     json.RawMessage
	TokenPrompt     *int
	TokenCompletion *int
	CostUSD         *float64
	LatencyMS       *int
	TraceID         string
	CreatedAt       time.Time
}

type Job struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	JobType   JobType
	TargetID  uuid.UUID
	Status    JobStatus
	Progress  json.RawMessage
	Error     *string
	TraceID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DeadLetter struct {
	ID          uuid.UUID
	JobID       *uuid.UUID
	TaskName    string
	PayloadJSON json.RawMessage
	Error       *string
	RetryCount  int
	CreatedAt   time.Time
}

type MetricsSnapshot struct {
	ID          uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	Scope       string
	MetricsJSON json.RawMessage
	CreatedAt   time.Time
}

type AlertEvent struct {
	ID          uuid.UUID
	Name        string
	Status      string
	Value       *float64
	Threshold   *float64
	ContextJSON json.RawMessage
	CreatedAt   time.Time
}
