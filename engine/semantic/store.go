// Package semantic is the sole owner of all Qdrant operations: collection
// management, batched upserts, and k-NN search.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/net4cleanair/litreview/engine/domain"
)

// UpsertBatchSize is the number of points sent per store-level upsert call.
const UpsertBatchSize = 128

// VectorStore owns one named collection in Qdrant.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a VectorStore over existing clients. Used in tests.
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient, collection string) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
	}
}

// Collection returns the collection name the store owns.
func (v *VectorStore) Collection() string { return v.collection }

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist. An existing collection is left untouched: its dimensionality is
// not checked against dims, so a mismatch surfaces later as an upsert or
// search error from Qdrant.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %v: %w", err, domain.ErrCollection)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %v: %w", v.collection, err, domain.ErrCollection)
	}
	return nil
}

// Upsert stores points in batches of UpsertBatchSize, sequentially. The
// first failed batch aborts the whole operation; batches already written
// stay written, which is safe to retry wholesale because upsert is
// idempotent by id.
func (v *VectorStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id: pointID(p.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: encodePayload(p.Payload),
		}
	}

	wait := true
	for start := 0; start < len(structs); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(structs) {
			end = len(structs)
		}
		_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.collection,
			Wait:           &wait,
			Points:         structs[start:end],
		})
		if err != nil {
			return fmt.Errorf("semantic: upsert batch at %d (%d points): %v: %w", start, end-start, err, domain.ErrUpsert)
		}
	}
	return nil
}

// Search performs k-NN similarity search, returning up to topK hits ordered
// by descending score. An empty collection yields an empty slice, not an
// error.
func (v *VectorStore) Search(ctx context.Context, vector []float32, topK int, withPayload bool) ([]SearchHit, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: withPayload},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %v: %w", v.collection, err, domain.ErrSearch)
	}

	hits := make([]SearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = SearchHit{
			ID:      hitID(r.GetId()),
			Score:   r.GetScore(),
			Payload: decodePayload(r.GetPayload()),
		}
	}
	return hits, nil
}

// pointID maps a record id to a Qdrant point id. Qdrant accepts unsigned
// integers and UUIDs only, so string ids become a deterministic SHA1 UUID:
// the same input id always yields the same point id, preserving
// upsert-by-id overwrite semantics.
func pointID(id any) *pb.PointId {
	switch t := id.(type) {
	case int64:
		return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(t)}}
	case int:
		return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(t)}}
	case uint64:
		return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: t}}
	case string:
		u := uuid.NewSHA1(uuid.NameSpaceURL, []byte(t)).String()
		return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u}}
	default:
		u := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprint(t))).String()
		return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u}}
	}
}

func hitID(id *pb.PointId) any {
	if id == nil {
		return nil
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return int64(id.GetNum())
}

// encodePayload converts record columns to Qdrant values. Values without a
// JSON-native representation are stringified, a lossy but deterministic
// fallback.
func encodePayload(payload map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, val := range payload {
		out[k] = encodeValue(val)
	}
	return out
}

func encodeValue(val any) *pb.Value {
	switch t := val.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(t)}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
	default:
		if data, err := json.Marshal(t); err == nil {
			return &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(data)}}
		}
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(t)}}
	}
}

func decodePayload(payload map[string]*pb.Value) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, val := range payload {
		out[k] = decodeValue(val)
	}
	return out
}

func decodeValue(val *pb.Value) any {
	switch kind := val.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_NullValue:
		return nil
	case *pb.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = decodeValue(item)
		}
		return out
	case *pb.Value_StructValue:
		return decodePayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}
