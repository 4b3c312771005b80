package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantIndex keeps descriptors in a Qdrant collection with Euclid distance.
// Point ids are the insertion positions. Qdrant reports plain Euclidean distance,
// so scores are squared before they are returned.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dimensions  int
	size        int
	mu          sync.RWMutex
}

// NewQdrantIndex connects to Qdrant at addr (gRPC port) and recreates the collection empty.
// Positions are only meaningful within one process, so stale points are never reused.
func NewQdrantIndex(ctx context.Context, addr, collection string, dimensions int) (*QdrantIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	q := &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dimensions:  dimensions,
	}
	if err := q.recreate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) recreate(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() != q.collection {
			continue
		}
		if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection}); err != nil {
			return fmt.Errorf("qdrant: delete collection %s: %w", q.collection, err)
		}
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dimensions),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", q.collection, err)
	}
	return nil
}

// Type returns the index type identifier.
func (q *QdrantIndex) Type() string {
	return string(IndexTypeQdrant)
}

// Add upserts the batch in one request and waits for it to be applied.
func (q *QdrantIndex) Add(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != q.dimensions {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), q.dimensions)
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	points := make([]*pb.PointStruct, len(vectors))
	for i, v := range vectors {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: uint64(q.size + i)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: v},
				},
			},
		}
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	q.size += len(vectors)
	return nil
}

// Search asks Qdrant for the k nearest points.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), q.dimensions)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if k <= 0 || q.size == 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	matches := make([]Match, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		d := float64(p.GetScore())
		matches = append(matches, Match{Distance: d * d, Position: pointPosition(p.GetId())})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches, nil
}

func pointPosition(id *pb.PointId) int64 {
	if id == nil {
		return NoMatch
	}
	if _, ok := id.GetPointIdOptions().(*pb.PointId_Num); !ok {
		return NoMatch
	}
	return int64(id.GetNum())
}

// Reset drops and recreates the collection.
func (q *QdrantIndex) Reset(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.recreate(ctx); err != nil {
		return err
	}
	q.size = 0
	return nil
}

// Size returns the number of points added since the last reset.
func (q *QdrantIndex) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Dimensions returns the fixed vector length.
func (q *QdrantIndex) Dimensions() int {
	return q.dimensions
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}
