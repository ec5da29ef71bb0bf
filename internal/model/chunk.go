package model

const (
	MetaSourceHash = "source_hash"
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
)

// Chunk is a piece of a document ready to be embedded. Metadata always
// carries the source hash and display name of the originating file.
type Chunk struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

type IngestResult struct {
	New        bool   `json:"new"`
	SourceHash string `json:"source_hash"`
	Source     string `json:"source"`
	Chunks     int    `json:"chunks"`
}
