package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smancode/recall/internal/embedder"
	"github.com/smancode/recall/internal/store"
	"github.com/smancode/recall/pkg/types"
)

const (
	// DefaultBatchSize is how many documents go into one embedding call.
	DefaultBatchSize = 10

	// DefaultConcurrency is how many embedding batches are in flight.
	DefaultConcurrency = 4
)

// Document is one unit of ingestable content.
type Document struct {
	ID        string     `json:"id,omitempty"`
	SourceRef string     `json:"sourceRef"`
	Kind      types.Kind `json:"kind"`
	Payload   string     `json:"payload"`
}

// FailedDocument reports one document that did not make it in.
type FailedDocument struct {
	ID        string `json:"id,omitempty"`
	SourceRef string `json:"sourceRef"`
	Reason    string `json:"reason"`
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Ingested   int              `json:"ingested"`
	Superseded int              `json:"superseded"`
	Failed     []FailedDocument `json:"failed,omitempty"`
}

// Ingester runs the ingestion flow. Safe for concurrent use.
type Ingester struct {
	store       *store.Store
	embedder    embedder.Embedder
	batchSize   int
	concurrency int
	logger      *zap.Logger
}

// NewIngester wires the ingestion pipeline.
func NewIngester(st *store.Store, emb embedder.Embedder, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store:       st,
		embedder:    emb,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
}

// Ingest embeds and stores the documents. Documents from a source that was
// ingested before replace that source's earlier records. Batching exists to
// amortize the embedding round trip, not as a transaction: a failed batch
// is reported per document and the rest of the run continues.
func (in *Ingester) Ingest(ctx context.Context, projectKey string, docs []Document) (*IngestReport, error) {
	if err := store.ValidateProjectKey(projectKey); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return &IngestReport{}, nil
	}

	report := &IngestReport{}
	var valid []Document
	for _, d := range docs {
		switch {
		case d.SourceRef == "":
			report.Failed = append(report.Failed, FailedDocument{
				ID: d.ID, Reason: "sourceRef is required",
			})
		case d.Payload == "":
			report.Failed = append(report.Failed, FailedDocument{
				ID: d.ID, SourceRef: d.SourceRef, Reason: "payload is empty",
			})
		case !d.Kind.Valid():
			report.Failed = append(report.Failed, FailedDocument{
				ID: d.ID, SourceRef: d.SourceRef,
				Reason: fmt.Sprintf("unknown kind %q", d.Kind),
			})
		default:
			if d.ID == "" {
				d.ID = uuid.NewString()
			}
			valid = append(valid, d)
		}
	}

	// Retire earlier records from every source this run touches, once.
	seen := make(map[string]bool)
	for _, d := range valid {
		if seen[d.SourceRef] {
			continue
		}
		seen[d.SourceRef] = true
		n, err := in.store.SupersedeSource(ctx, projectKey, d.SourceRef)
		if err != nil {
			return nil, err
		}
		report.Superseded += n
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)

	for start := 0; start < len(valid); start += in.batchSize {
		end := start + in.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, d := range batch {
				texts[i] = d.Payload
			}

			vectors, err := in.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				// An embedding failure costs this batch, not the run.
				in.logger.Warn("embedding batch failed",
					zap.String("project", projectKey),
					zap.Int("batchSize", len(batch)), zap.Error(err))
				mu.Lock()
				for _, d := range batch {
					report.Failed = append(report.Failed, FailedDocument{
						ID: d.ID, SourceRef: d.SourceRef,
						Reason: fmt.Sprintf("embedding failed: %v", err),
					})
				}
				mu.Unlock()
				return nil
			}

			recs := make([]types.VectorRecord, len(batch))
			for i, d := range batch {
				recs[i] = types.VectorRecord{
					ID:         d.ID,
					ProjectKey: projectKey,
					SourceRef:  d.SourceRef,
					Kind:       d.Kind,
					Payload:    d.Payload,
					Embedding:  vectors[i],
				}
			}
			if err := in.store.UpsertBatch(gctx, projectKey, recs); err != nil {
				// Storage faults are fatal: the catalog is the source of
				// truth and must not silently diverge.
				return err
			}

			mu.Lock()
			report.Ingested += len(batch)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}
