package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/hasan-murad02/rag/internal/question"
	"github.com/hasan-murad02/rag/internal/vector"
)

type Store struct {
	client *weaviate.Client
	schema SchemaClient
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client, schema: &clientAdapter{client: client}}
}

// NewStoreWithSchema swaps the schema client, mainly for tests.
func NewStoreWithSchema(client *weaviate.Client, schema SchemaClient) *Store {
	return &Store{client: client, schema: schema}
}

func (s *Store) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: ready check: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate: not ready")
	}
	return nil
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := s.schema.ClassExists(ctx, ClassName(name))
	if err != nil {
		return false, fmt.Errorf("weaviate: class exists %s: %w", name, err)
	}
	return ok, nil
}

// CreateCollection ignores dim: classes use client-supplied vectors and
// Weaviate fixes the dimension on first insert.
func (s *Store) CreateCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("weaviate: create collection %s: invalid dimension %d", name, dim)
	}
	if err := ensureClass(ctx, s.schema, ClassName(name)); err != nil {
		return fmt.Errorf("weaviate: create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	if err := s.schema.DeleteClass(ctx, ClassName(name)); err != nil {
		return fmt.Errorf("weaviate: delete collection %s: %w", name, err)
	}
	return nil
}

// ObjectID derives a stable object UUID from the collection and point id so
// that re-upserting a point replaces it.
func ObjectID(collection string, id uint64) strfmt.UUID {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(collection+"/"+strconv.FormatUint(id, 10)))
	return strfmt.UUID(u.String())
}

func (s *Store) Upsert(ctx context.Context, name string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	className := ClassName(name)

	objects := make([]*models.Object, 0, len(points))
	for _, p := range points {
		raw, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("weaviate: encode payload of point %d: %w", p.ID, err)
		}
		text, _ := p.Payload[question.KeyText].(string)
		kind, _ := p.Payload[question.KeyEmbeddingKind].(string)
		objects = append(objects, &models.Object{
			Class: className,
			ID:    ObjectID(name, p.ID),
			Properties: map[string]interface{}{
				"pointId":       p.ID,
				"text":          text,
				"embeddingKind": kind,
				"payload":       string(raw),
			},
			Vector: p.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: upsert %d points into %s: %w", len(points), name, err)
	}
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil && e.Message != "" {
				return fmt.Errorf("weaviate: upsert into %s: object %s: %s", name, r.ID, e.Message)
			}
		}
	}
	return nil
}

func fields(extra ...string) []graphql.Field {
	add := make([]graphql.Field, 0, len(extra))
	for _, e := range extra {
		add = append(add, graphql.Field{Name: e})
	}
	return []graphql.Field{
		{Name: "pointId"},
		{Name: "payload"},
		{Name: "_additional", Fields: add},
	}
}

// Scroll pages with the cursor API. The cursor is the UUID of the last
// object returned, so pages are ordered by object id rather than point id.
func (s *Store) Scroll(ctx context.Context, name string, pageSize int, cursor string) ([]vector.Record, string, error) {
	ok, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("weaviate: scroll %s: %w", name, vector.ErrCollectionNotFound)
	}

	className := ClassName(name)
	get := s.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields("id")...).
		WithLimit(pageSize)
	if cursor != "" {
		get = get.WithAfter(cursor)
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("weaviate: scroll %s: %w", name, err)
	}
	if len(res.Errors) > 0 {
		return nil, "", fmt.Errorf("weaviate: scroll %s: graphql error: %s", name, graphqlErrors(res.Errors))
	}

	rows := objectsOf(res, className)
	records := make([]vector.Record, 0, len(rows))
	last := ""
	for _, props := range rows {
		id, payload, err := decodeObject(props)
		if err != nil {
			return nil, "", fmt.Errorf("weaviate: scroll %s: %w", name, err)
		}
		records = append(records, vector.Record{ID: id, Payload: payload})
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			last, _ = additional["id"].(string)
		}
	}

	next := ""
	if len(rows) == pageSize && last != "" {
		next = last
	}
	return records, next, nil
}

// Query converts the similarity threshold to a cosine distance bound;
// Weaviate reports distance = 1 - similarity.
func (s *Store) Query(ctx context.Context, name string, vec []float32, limit int, threshold float32) ([]vector.Match, error) {
	className := ClassName(name)
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec).
		WithDistance(1 - threshold)

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields("distance")...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: query %s: %w", name, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("weaviate: query %s: graphql error: %s", name, graphqlErrors(res.Errors))
	}

	rows := objectsOf(res, className)
	matches := make([]vector.Match, 0, len(rows))
	for _, props := range rows {
		id, payload, err := decodeObject(props)
		if err != nil {
			return nil, fmt.Errorf("weaviate: query %s: %w", name, err)
		}
		var distance float64
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			distance = toFloat(additional["distance"])
		}
		matches = append(matches, vector.Match{ID: id, Score: float32(1 - distance), Payload: payload})
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	ok, err := s.CollectionExists(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	className := ClassName(name)
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate: count %s: %w", name, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("weaviate: count %s: graphql error: %s", name, graphqlErrors(res.Errors))
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := agg[className].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	return int64(toFloat(meta["count"])), nil
}

func objectsOf(res *models.GraphQLResponse, className string) []map[string]interface{} {
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data[className].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func decodeObject(props map[string]interface{}) (uint64, map[string]any, error) {
	id := uint64(toFloat(props["pointId"]))
	payload := map[string]any{}
	if raw, ok := props["payload"].(string); ok && raw != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return 0, nil, fmt.Errorf("decode payload of point %d: %w", id, err)
		}
	}
	return id, payload, nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func graphqlErrors(errs []*models.GraphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

var _ vector.Store = (*Store)(nil)
