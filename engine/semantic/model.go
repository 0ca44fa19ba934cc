package semantic

// Point is the unit stored in the collection: id, vector, and the record's
// original columns as payload.
type Point struct {
	ID      any
	Vector  []float32
	Payload map[string]any
}

// SearchHit is a single similarity-search result. Score is the cosine
// similarity (higher is more similar). ID is an int64 for numeric point ids
// and a UUID string otherwise.
type SearchHit struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}
