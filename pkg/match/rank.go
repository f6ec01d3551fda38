package match

import (
	"sort"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
)

// Result is one ranked (customer, platform) pair. Rank 1 is the best platform
// requirement for the customer requirement under the run's model.
type Result struct {
	CustomerID     string                  `json:"customer_id"`
	CustomerReqID  string                  `json:"customer_req_id"`
	PlatformID     string                  `json:"platform_id"`
	PlatformReqID  string                  `json:"platform_req_id"`
	Similarity     float64                 `json:"similarity"`
	Rank           int                     `json:"rank"`
	Classification coverage.Classification `json:"classification"`
}

// Similarity is the dot product of two vectors. Vectors are L2 normalized
// before storage, so this equals cosine similarity. Vectors of different
// length are unrelated and score 0.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

type candidate struct {
	platform   *common.Embedding
	similarity float64
}

// Rank compares every customer vector with every platform vector and keeps the
// topK most similar platform vectors per customer. Equal similarities keep the
// order of the platform input.
func Rank(customers, platforms []common.Embedding, topK int, t coverage.Thresholds) []Result {
	if len(customers) == 0 || len(platforms) == 0 || topK <= 0 {
		return nil
	}
	k := min(topK, len(platforms))

	results := make([]Result, 0, len(customers)*k)
	candidates := make([]candidate, len(platforms))
	for ci := range customers {
		customer := &customers[ci]
		for pi := range platforms {
			candidates[pi] = candidate{
				platform:   &platforms[pi],
				similarity: Similarity(customer.Vector, platforms[pi].Vector),
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].similarity > candidates[j].similarity
		})

		for rank, c := range candidates[:k] {
			results = append(results, Result{
				CustomerID:     customer.NodeID,
				CustomerReqID:  customer.ReqID,
				PlatformID:     c.platform.NodeID,
				PlatformReqID:  c.platform.ReqID,
				Similarity:     c.similarity,
				Rank:           rank + 1,
				Classification: coverage.Classify(c.similarity, t),
			})
		}
	}
	return results
}
