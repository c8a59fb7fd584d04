package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Store owns one Qdrant collection per Kind, all sharing embedding
// dimension D and cosine distance, per spec §6 ("vector indexes (HNSW,
// cosine, dims from EMBEDDING_MODEL_SIZE, ef_construction=400, m=32)").
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	prefix      string
}

// New creates a Store connected to Qdrant at the given gRPC address. Every
// collection name is "<prefix>_<kind>".
func New(addr, prefix string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		prefix:      prefix,
	}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) collectionName(k Kind) string { return s.prefix + "_" + string(k) }

// EnsureSchema creates each collection (if absent) with HNSW params
// matching spec §6: ef_construction=400, m=32, cosine distance, dims D.
func (s *Store) EnsureSchema(ctx context.Context, dims int) error {
	for _, k := range []Kind{KindEntity, KindStatement, KindEpisode} {
		if err := s.ensureCollection(ctx, k, dims); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, k Kind, dims int) error {
	name := s.collectionName(k)
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectorstore: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return nil
		}
	}

	efConstruction := uint64(400)
	m := uint64(32)
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
					HnswConfig: &pb.HnswConfigDiff{
						M:              &m,
						EfConstruct:    &efConstruction,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", name, err)
	}
	return nil
}

// Upsert stores embeddings of the given kind.
func (s *Store) Upsert(ctx context.Context, k Kind, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Payload)+1)
		payload["user_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.UserID}}
		for key, val := range r.Payload {
			payload[key] = toQdrantValue(val)
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collectionName(k),
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %d %s points: %w", len(records), k, err)
	}
	return nil
}

// Search performs cosine k-NN search scoped to one user, returning hits
// above the given similarity threshold.
func (s *Store) Search(ctx context.Context, k Kind, embedding []float32, userID string, limit int, threshold float32) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collectionName(k),
		Vector:         embedding,
		Limit:          uint64(limit),
		ScoreThreshold: &threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch("user_id", userID)},
		},
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %s: %w", k, err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		h := Hit{ID: r.GetId().GetUuid(), Score: r.GetScore(), Payload: make(map[string]string)}
		for key, val := range r.GetPayload() {
			if key == "user_id" {
				h.UserID = val.GetStringValue()
				continue
			}
			h.Payload[key] = val.GetStringValue()
		}
		hits[i] = h
	}
	return hits, nil
}

// GetVectors fetches the stored embedding for each of the given point IDs,
// keyed by ID. Missing IDs are simply absent from the result, the input
// the clustering engine needs to build its in-memory similarity graph and
// recompute cluster centroids without re-embedding anything.
func (s *Store) GetVectors(ctx context.Context, k Kind, ids []string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}
	withVectors := true
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collectionName(k),
		Ids:            pointIDs,
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: withVectors}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get %d %s vectors: %w", len(ids), k, err)
	}
	out := make(map[string][]float32, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		out[p.GetId().GetUuid()] = p.GetVectors().GetVector().GetData()
	}
	return out, nil
}

// DeleteByIDs removes points by ID, e.g. when a Statement/Entity is deleted.
func (s *Store) DeleteByIDs(ctx context.Context, k Kind, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collectionName(k),
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete %d %s points: %w", len(ids), k, err)
	}
	return nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func toQdrantValue(val any) *pb.Value {
	switch tv := val.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}
