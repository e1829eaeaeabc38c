package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// embeddingDim is the dimensionality of the hashed bag-of-words vectors the
// searcher queries with. The collection must be created with the same
// dimension and cosine distance.
const embeddingDim = 256

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	URL        string
	Collection string
	APIKey     string
}

// QdrantSearcher queries a Qdrant collection of fraud-pattern notes. Query
// text is embedded with deterministic feature hashing, so indexing and
// querying need no external embedding model.
type QdrantSearcher struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantSearcher connects to Qdrant and returns a searcher.
func NewQdrantSearcher(cfg QdrantConfig) (*QdrantSearcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantSearcher{client: client, collection: cfg.Collection}, nil
}

func (s *QdrantSearcher) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	vector := embed(query)
	limitU := uint64(limit)

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitU,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	results := make([]Entry, 0, len(points))
	for _, point := range points {
		entry := Entry{Score: float64(point.Score)}
		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				entry.ID = id
			} else {
				entry.ID = fmt.Sprintf("%d", point.Id.GetNum())
			}
		}
		for k, v := range point.Payload {
			switch k {
			case "title":
				entry.Title = v.GetStringValue()
			case "content":
				entry.Content = v.GetStringValue()
			case "tags":
				if list := v.GetListValue(); list != nil {
					for _, item := range list.Values {
						if t := item.GetStringValue(); t != "" {
							entry.Tags = append(entry.Tags, t)
						}
					}
				}
			}
		}
		results = append(results, entry)
	}
	return results, nil
}

// Close releases the underlying gRPC connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}

// embed hashes tokens into a fixed-dimension unit vector.
func embed(text string) []float32 {
	vec := make([]float32, embeddingDim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%embeddingDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
