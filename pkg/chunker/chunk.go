package chunker

import "time"

// Split levels recorded on each chunk.
const (
	SplitLevelMarkdown  = "markdown"
	SplitLevelRecursive = "recursive"
)

// Chunk is one retrievable unit of a slide deck. The _id is stable
// across re-ingestions of the same document ("course:slide:index"), so
// re-running ingestion produces duplicate-key conflicts instead of
// divergent copies.
type Chunk struct {
	ID         string `bson:"_id" json:"id"`
	CourseID   string `bson:"course_id" json:"course_id"`
	SlideID    string `bson:"slide_id" json:"slide_id"`
	S3FileName string `bson:"s3_file_name" json:"s3_file_name"`
	ChunkIndex int    `bson:"chunk_index" json:"chunk_index"`

	Text       string `bson:"text" json:"text"`
	WordCount  int    `bson:"word_count" json:"word_count"`
	CharCount  int    `bson:"char_count" json:"char_count"`
	SplitLevel string `bson:"split_level" json:"split_level"`

	PageStart  int `bson:"page_start" json:"page_start"`
	PageEnd    int `bson:"page_end" json:"page_end"`
	TotalPages int `bson:"total_pages" json:"total_pages"`

	// Parent chunk indices of the enclosing headers, outermost first,
	// and their titles prefixed "H{level}^".
	HeadersHierarchy       []int    `bson:"headers_hierarchy" json:"headers_hierarchy"`
	HeadersHierarchyTitles []string `bson:"headers_hierarchy_titles" json:"headers_hierarchy_titles"`

	CharStartPos int `bson:"char_start_pos" json:"char_start_pos"`
	CharEndPos   int `bson:"char_end_pos" json:"char_end_pos"`

	// OriginalChunkID ties recursive fragments back to the header block
	// they were carved from. Fragments of one block occupy a contiguous
	// chunk_index range.
	OriginalChunkID      int `bson:"original_chunk_id" json:"original_chunk_id"`
	SentenceSiblingCount int `bson:"sentence_sibling_count" json:"sentence_sibling_count"`
	SentenceSiblingIndex int `bson:"sentence_sibling_index" json:"sentence_sibling_index"`

	IsHeader    bool   `bson:"is_header,omitempty" json:"is_header,omitempty"`
	HeaderLevel int    `bson:"header_level,omitempty" json:"header_level,omitempty"`
	HeaderText  string `bson:"header_text,omitempty" json:"header_text,omitempty"`

	Embedding []float32 `bson:"embedding,omitempty" json:"embedding,omitempty"`

	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}
