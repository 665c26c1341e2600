package metrics

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/contracts"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
)

// Window is a half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Report holds the aggregated pipeline rates for a window. Rates are
// pointers: nil means the window held no data for that denominator, which
// is different from a measured zero.
type Report struct {
	WindowStart          time.Time `json:"window_start"`
	WindowEnd            time.Time `json:"window_end"`
	SentenceSupportRate  *float64  `json:"sentence_support_rate"`
	ParagraphVerifiedRate *float64 `json:"paragraph_verified_rate"`
	JobFailureRate       *float64  `json:"job_failure_rate"`
	LatencyP50MS         *float64  `json:"latency_p50_ms"`
	LatencyP95MS         *float64  `json:"latency_p95_ms"`
	CostPerParagraphUSD  *float64  `json:"cost_per_paragraph_usd"`
	MissingEvidenceRate  *float64  `json:"missing_evidence_rate"`
	SentenceCount        int       `json:"sentence_count"`
	ParagraphCount       int       `json:"paragraph_count"`
	JobCount             int       `json:"job_count"`
	RunCount             int       `json:"run_count"`
}

// Rate divides numerator by denominator, or reports nil when there is
// nothing to divide by.
func Rate(numerator, denominator int) *float64 {
	if denominator == 0 {
		return nil
	}
	v := float64(numerator) / float64(denominator)
	return &v
}

// Percentile uses the inclusive linear-interpolation method. A single
// value is its own percentile at any p.
func Percentile(values []float64, p float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		v := sorted[0]
		return &v
	}

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		v := sorted[lo]
		return &v
	}
	frac := rank - float64(lo)
	v := sorted[lo] + (sorted[hi]-sorted[lo])*frac
	return &v
}

type Aggregator struct {
	store *sqlite.Client
}

func NewAggregator(store *sqlite.Client) *Aggregator {
	return &Aggregator{store: store}
}

func (a *Aggregator) Compute(ctx context.Context, window Window) (*Report, error) {
	from := window.From.Unix()
	to := window.To.Unix()

	report := &Report{
		WindowStart: window.From,
		WindowEnd:   window.To,
	}

	sentenceTotal, sentenceSupported, err := a.store.CountSentencesInWindow(ctx, from, to)
	if err != nil {
		return nil, err
	}
	report.SentenceCount = sentenceTotal
	report.SentenceSupportRate = Rate(sentenceSupported, sentenceTotal)

	paragraphTotal, paragraphVerified, err := a.store.CountParagraphsInWindow(ctx, from, to)
	if err != nil {
		return nil, err
	}
	report.ParagraphCount = paragraphTotal
	report.ParagraphVerifiedRate = Rate(paragraphVerified, paragraphTotal)

	jobTotal, jobFailed, err := a.store.CountJobsInWindow(ctx, from, to)
	if err != nil {
		return nil, err
	}
	report.JobCount = jobTotal
	report.JobFailureRate = Rate(jobFailed, jobTotal)

	runs, err := a.store.ListRunsInWindow(ctx, from, to)
	if err != nil {
		return nil, err
	}
	report.RunCount = len(runs)

	var latencies []float64
	var stageCost float64
	costSeen := false
	stageParagraphs := map[uuid.UUID]struct{}{}
	writerRuns := 0
	writerRunsMissingEvidence := 0

	for _, run := range runs {
		if run.LatencyMS != nil {
			latencies = append(latencies, float64(*run.LatencyMS))
		}
		if run.RunType == models.RunWriter || run.RunType == models.RunVerifier {
			if run.CostUSD != nil {
				stageCost += *run.CostUSD
				costSeen = true
			}
			if run.ParagraphID != nil {
				stageParagraphs[*run.ParagraphID] = struct{}{}
			}
		}
		if run.RunType == models.RunWriter {
			writerRuns++
			if writerRunMissingEvidence(run.OutputsJSON) {
				writerRunsMissingEvidence++
			}
		}
	}

	report.LatencyP50MS = Percentile(latencies, 0.50)
	report.LatencyP95MS = Percentile(latencies, 0.95)

	// No run carried cost data means cost is unknown, not free.
	if costSeen && len(stageParagraphs) > 0 {
		cost := stageCost / float64(len(stageParagraphs))
		report.CostPerParagraphUSD = &cost
	}
	report.MissingEvidenceRate = Rate(writerRunsMissingEvidence, writerRuns)

	return report, nil
}

func writerRunMissingEvidence(outputs json.RawMessage) bool {
	var out contracts.WriterOutput
	if err := json.Unmarshal(outputs, &out); err != nil {
		return false
	}
	return len(out.Paragraph.MissingEvidence) > 0
}

// Snapshot computes a report and persists it.
func (a *Aggregator) Snapshot(ctx context.Context, window Window) (*models.MetricsSnapshot, *Report, error) {
	report, err := a.Compute(ctx, window)
	if err != nil {
		return nil, nil, err
	}
	data, err := json.Marshal(report)
	if err != nil {
		return nil, nil, err
	}
	snap := &models.MetricsSnapshot{
		ID:          uuid.New(),
		WindowStart: window.From,
		WindowEnd:   window.To,
		Scope:       "global",
		MetricsJSON: data,
	}
	if err := a.store.InsertMetricsSnapshot(ctx, snap); err != nil {
		return nil, nil, err
	}
	return snap, report, nil
}
