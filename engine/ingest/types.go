package ingest

import "github.com/net4cleanair/litreview/engine/domain"

// Upload is raw CSV content entering the pipeline.
type Upload struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding,omitempty"`
	CSV      []byte `json:"csv"`
}

// embeddedSet pairs normalized records with their document vectors.
type embeddedSet struct {
	Records []domain.Record
	Vectors [][]float32
}

// Job is the NATS message for asynchronous ingestion.
type Job struct {
	Upload
	SubmittedBy string `json:"submitted_by,omitempty"`
}
