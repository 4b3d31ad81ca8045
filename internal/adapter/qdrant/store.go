package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hasan-murad02/rag/internal/vector"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

type Options struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Store talks to Qdrant over its raw gRPC API.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
}

func New(opts Options) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	creds := insecure.NewCredentials()
	if opts.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// NewWithClients builds a Store on pre-built clients. Used by tests.
func NewWithClients(points pointsAPI, collections collectionsAPI) *Store {
	return &Store{points: points, collections: collections}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Ping lists collections to verify the server answers.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("qdrant: ping: %w", err)
	}
	return nil
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("qdrant: create collection %s: invalid dimension %d", name, dim)
	}
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return fmt.Errorf("qdrant: delete collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, name string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id: numID(p.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: toPayload(p.Payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points into %s: %w", len(points), name, err)
	}
	return nil
}

func (s *Store) Scroll(ctx context.Context, name string, pageSize int, cursor string) ([]vector.Record, string, error) {
	limit := uint32(pageSize)
	req := &pb.ScrollPoints{
		CollectionName: name,
		Limit:          &limit,
		WithPayload:    payloadSelector(),
	}
	if cursor != "" {
		n, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("qdrant: invalid scroll cursor %q: %w", cursor, err)
		}
		req.Offset = numID(n)
	}

	resp, err := s.points.Scroll(ctx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, "", fmt.Errorf("qdrant: scroll %s: %w", name, vector.ErrCollectionNotFound)
		}
		return nil, "", fmt.Errorf("qdrant: scroll %s: %w", name, err)
	}

	records := make([]vector.Record, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		records = append(records, vector.Record{
			ID:      p.GetId().GetNum(),
			Payload: fromPayload(p.GetPayload()),
		})
	}

	next := ""
	if off := resp.GetNextPageOffset(); off != nil {
		next = strconv.FormatUint(off.GetNum(), 10)
	}
	return records, next, nil
}

func (s *Store) Query(ctx context.Context, name string, vec []float32, limit int, threshold float32) ([]vector.Match, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         vec,
		Limit:          uint64(limit),
		ScoreThreshold: &threshold,
		WithPayload:    payloadSelector(),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %s: %w", name, err)
	}

	matches := make([]vector.Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		matches[i] = vector.Match{
			ID:      r.GetId().GetNum(),
			Score:   r.GetScore(),
			Payload: fromPayload(r.GetPayload()),
		}
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: name, Exact: &exact})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("qdrant: count %s: %w", name, err)
	}
	return int64(resp.GetResult().GetCount()), nil
}

func numID(n uint64) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: n}}
}

func payloadSelector() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

var _ vector.Store = (*Store)(nil)
