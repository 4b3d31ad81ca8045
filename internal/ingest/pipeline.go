package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hasan-murad02/rag/internal/embedding"
	"github.com/hasan-murad02/rag/internal/question"
	"github.com/hasan-murad02/rag/internal/vector"
)

const (
	DefaultBatchSize = 100
	scanPageSize     = 100
	probeText        = "sample"
)

var tracer = otel.Tracer("github.com/hasan-murad02/rag/internal/ingest")

type Config struct {
	Collection       string
	Schema           question.Schema
	DefaultBatchSize int
}

// Report summarizes one ingestion run. Stored counts source records, not
// points: a record with context yields two points.
type Report struct {
	Stored     int `json:"stored"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
	Points     int `json:"points"`
	Batches    int `json:"batches"`
}

// Pipeline is the only writer of its collection. mu serializes runs so that
// each scan sees the points of the run before it.
type Pipeline struct {
	mu         sync.Mutex
	store      vector.Store
	embedder   embedding.Embedder
	schema     question.Schema
	collection string
	batchSize  int
}

func NewPipeline(store vector.Store, embedder embedding.Embedder, cfg Config) *Pipeline {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = DefaultBatchSize
	}
	if len(cfg.Schema.TextFields) == 0 {
		cfg.Schema = question.DefaultSchema()
	}
	return &Pipeline{
		store:      store,
		embedder:   embedder,
		schema:     cfg.Schema,
		collection: cfg.Collection,
		batchSize:  cfg.DefaultBatchSize,
	}
}

func (p *Pipeline) Collection() string { return p.collection }

// EnsureCollection creates the collection when absent, sizing it from a
// probe embedding.
func (p *Pipeline) EnsureCollection(ctx context.Context) error {
	exists, err := p.store.CollectionExists(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w: %w", p.collection, question.ErrUnavailable, err)
	}
	if exists {
		return nil
	}

	probe, err := p.embedder.EmbedOne(ctx, probeText)
	if err != nil {
		return fmt.Errorf("probe embedding dimension: %w: %w", question.ErrUnavailable, err)
	}
	if err := p.store.CreateCollection(ctx, p.collection, len(probe)); err != nil {
		return fmt.Errorf("create collection %s: %w: %w", p.collection, question.ErrUnavailable, err)
	}
	slog.InfoContext(ctx, "collection created", "collection", p.collection, "dimension", len(probe))
	return nil
}

// Clear drops the collection and recreates it empty.
func (p *Pipeline) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := p.store.CollectionExists(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w: %w", p.collection, question.ErrUnavailable, err)
	}
	if exists {
		if err := p.store.DeleteCollection(ctx, p.collection); err != nil {
			return fmt.Errorf("delete collection %s: %w: %w", p.collection, question.ErrUnavailable, err)
		}
	}
	if err := p.EnsureCollection(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "collection cleared", "collection", p.collection)
	return nil
}

func (p *Pipeline) Count(ctx context.Context) (int64, error) {
	n, err := p.store.Count(ctx, p.collection)
	if err != nil {
		return 0, fmt.Errorf("count collection %s: %w: %w", p.collection, question.ErrUnavailable, err)
	}
	return n, nil
}

func (p *Pipeline) IngestFile(ctx context.Context, path string, batchSize int) (Report, error) {
	records, err := LoadRecords(path)
	if err != nil {
		return Report{}, err
	}
	slog.InfoContext(ctx, "loaded records", "path", path, "count", len(records))
	return p.Ingest(ctx, records, batchSize)
}

type candidate struct {
	text      string
	textField string
	context   string
	metadata  map[string]any
}

// Ingest embeds and stores every record that is neither malformed nor
// already indexed. Batches run sequentially; a failed batch aborts the run
// and earlier batches stay stored.
func (p *Pipeline) Ingest(ctx context.Context, records []question.Record, batchSize int) (report Report, err error) {
	if len(records) == 0 {
		return Report{}, nil
	}
	if batchSize <= 0 {
		batchSize = p.batchSize
	}

	ctx, span := tracer.Start(ctx, "ingest.Ingest", trace.WithAttributes(
		attribute.String("collection", p.collection),
		attribute.Int("records", len(records)),
		attribute.Int("batch_size", batchSize),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("stored", report.Stored), attribute.Int("points", report.Points))
		span.End()
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.scan(ctx)

	accepted := make([]candidate, 0, len(records))
	for _, rec := range records {
		text, field, ok := p.schema.Text(rec)
		if !ok {
			report.Malformed++
			continue
		}
		if id, ok := p.schema.ExternalID(rec); ok {
			if _, dup := idx.keys[id]; dup {
				report.Duplicates++
				continue
			}
			idx.keys[id] = struct{}{}
		}
		accepted = append(accepted, candidate{
			text:      text,
			textField: field,
			context:   p.schema.Context(rec),
			metadata:  p.schema.Metadata(rec, field),
		})
	}

	if len(accepted) == 0 {
		slog.InfoContext(ctx, "nothing to ingest", "collection", p.collection,
			"duplicates", report.Duplicates, "malformed", report.Malformed)
		return report, nil
	}

	if err := p.EnsureCollection(ctx); err != nil {
		return report, err
	}

	nextID := idx.nextID
	total := (len(accepted) + batchSize - 1) / batchSize
	for start, n := 0, 1; start < len(accepted); start, n = start+batchSize, n+1 {
		end := min(start+batchSize, len(accepted))
		points, err := p.processBatch(ctx, accepted[start:end], n, &nextID)
		if err != nil {
			return report, err
		}
		report.Stored += end - start
		report.Points += points
		report.Batches++
		slog.InfoContext(ctx, "batch stored", "collection", p.collection,
			"batch", n, "of", total, "records", end-start, "points", points)
	}

	slog.InfoContext(ctx, "ingestion complete", "collection", p.collection,
		"stored", report.Stored, "points", report.Points,
		"duplicates", report.Duplicates, "malformed", report.Malformed)
	return report, nil
}

func (p *Pipeline) processBatch(ctx context.Context, batch []candidate, n int, nextID *uint64) (int, error) {
	ctx, span := tracer.Start(ctx, "ingest.batch", trace.WithAttributes(
		attribute.Int("batch", n),
		attribute.Int("records", len(batch)),
	))
	defer span.End()

	texts := make([]string, len(batch))
	var combined []string
	var withContext []int
	for i, c := range batch {
		texts[i] = c.text
		if c.context != "" {
			combined = append(combined, strings.TrimSpace(c.text+" "+c.context))
			withContext = append(withContext, i)
		}
	}

	primary, err := p.embed(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("embed batch %d: %w: %w", n, question.ErrUnavailable, err)
	}

	var contextual [][]float32
	if len(combined) > 0 {
		contextual, err = p.embed(ctx, combined)
		if err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("embed context of batch %d: %w: %w", n, question.ErrUnavailable, err)
		}
	}

	contextVec := make(map[int][]float32, len(withContext))
	for j, i := range withContext {
		contextVec[i] = contextual[j]
	}

	points := make([]vector.Point, 0, len(batch)+len(withContext))
	for i, c := range batch {
		points = append(points, vector.Point{
			ID:     *nextID,
			Vector: primary[i],
			Payload: question.Payload{
				Text:      c.text,
				TextField: c.textField,
				Metadata:  c.metadata,
				Index:     i,
				Kind:      question.KindPrimaryOnly,
			}.Map(),
		})
		*nextID++

		if vec, ok := contextVec[i]; ok {
			points = append(points, vector.Point{
				ID:     *nextID,
				Vector: vec,
				Payload: question.Payload{
					Text:      c.text,
					TextField: c.textField,
					Context:   c.context,
					Metadata:  c.metadata,
					Index:     i,
					Kind:      question.KindPrimaryWithContext,
				}.Map(),
			})
			*nextID++
		}
	}

	if len(points) == 0 {
		return 0, nil
	}
	if err := p.store.Upsert(ctx, p.collection, points); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("upsert batch %d into %s: %w: %w", n, p.collection, question.ErrUnavailable, err)
	}
	return len(points), nil
}

func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// BuildExistingKeys returns the external identifiers already stored in the
// collection. Any failure, including a missing collection, yields an empty
// set so ingestion into a fresh collection still works.
func (p *Pipeline) BuildExistingKeys(ctx context.Context) map[string]struct{} {
	return p.scan(ctx).keys
}

type keyIndex struct {
	keys   map[string]struct{}
	nextID uint64
}

// scan pages through the collection collecting identifiers and the next
// free point id.
func (p *Pipeline) scan(ctx context.Context) keyIndex {
	idx := keyIndex{keys: make(map[string]struct{})}
	cursor := ""
	for {
		records, next, err := p.store.Scroll(ctx, p.collection, scanPageSize, cursor)
		if err != nil {
			if !errors.Is(err, vector.ErrCollectionNotFound) {
				slog.WarnContext(ctx, "existing key scan failed, continuing without duplicate filter",
					"collection", p.collection, "error", err)
				idx = keyIndex{keys: make(map[string]struct{}), nextID: fallbackNextID()}
			}
			return idx
		}
		for _, r := range records {
			if r.ID >= idx.nextID {
				idx.nextID = r.ID + 1
			}
			if id, ok := question.PayloadFromMap(r.Payload).ExternalID(p.schema.IDField); ok {
				idx.keys[id] = struct{}{}
			}
		}
		if next == "" {
			return idx
		}
		cursor = next
	}
}

// fallbackNextID starts past any id this pipeline has handed out when the
// highest stored id is unknown. Microseconds keep the id exact in stores that
// hold it as a float64.
func fallbackNextID() uint64 {
	return uint64(time.Now().UnixMicro())
}
