package chunker

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
)

const DefaultMaxWords = 350

// Characters of budget per word when translating the word limit into a
// character limit for the recursive splitter.
const charsPerWord = 6

type Options struct {
	MaxWords int
	Logger   *slog.Logger
}

type Option func(*Options)

func WithMaxWords(maxWords int) Option {
	return func(o *Options) {
		o.MaxWords = maxWords
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// ChunkPDF converts a PDF into ordered, size-bounded chunks carrying
// page spans, header ancestry, and sibling bookkeeping. The input is
// split at markdown headings first; blocks over the word limit are
// re-split at sentence boundaries.
func ChunkPDF(data []byte, courseID, slideID, s3FileName string, opts ...Option) ([]Chunk, error) {
	options := &Options{
		MaxWords: DefaultMaxWords,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	markdown, info, err := ConvertPDFToMarkdown(data)
	if err != nil {
		return nil, err
	}

	options.Logger.Debug("converted PDF to markdown",
		"chars", len(markdown), "pages", info.TotalPages)

	return ChunkMarkdown(markdown, info, courseID, slideID, s3FileName, options)
}

// ChunkMarkdown runs the split pipeline over already-extracted text.
func ChunkMarkdown(markdown string, info *DocumentInfo, courseID, slideID, s3FileName string, options *Options) ([]Chunk, error) {
	if options == nil {
		options = &Options{MaxWords: DefaultMaxWords, Logger: slog.Default()}
	}
	if options.MaxWords <= 0 {
		options.MaxWords = DefaultMaxWords
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	now := time.Now().UTC()
	blocks := splitByHeaders(markdown)

	var processed []Chunk

	type oversizedBlock struct {
		origID int
		text   string
		start  int
	}
	var oversized []oversizedBlock

	cursor := 0
	for i, blockText := range blocks {
		start, end := locateSpan(markdown, blockText, cursor, options.Logger)
		cursor = end

		wordCount := len(strings.Fields(blockText))
		if wordCount <= options.MaxWords {
			pageStart, pageEnd := pageRange(start, end, info.PageMarkers, info.TotalPages)
			processed = append(processed, Chunk{
				CourseID:               courseID,
				SlideID:                slideID,
				S3FileName:             s3FileName,
				Text:                   blockText,
				WordCount:              wordCount,
				CharCount:              len(blockText),
				SplitLevel:             SplitLevelMarkdown,
				OriginalChunkID:        i,
				PageStart:              pageStart,
				PageEnd:                pageEnd,
				TotalPages:             info.TotalPages,
				HeadersHierarchy:       []int{},
				HeadersHierarchyTitles: []string{},
				CharStartPos:           start,
				CharEndPos:             end,
				SentenceSiblingCount:   1,
				SentenceSiblingIndex:   0,
				Timestamp:              now,
			})
		} else {
			oversized = append(oversized, oversizedBlock{origID: i, text: blockText, start: start})
		}
	}

	if len(oversized) > 0 {
		splitter := newRecursiveSplitter(options.MaxWords * charsPerWord)

		for _, block := range oversized {
			fragments := splitter.Split(block.text)
			totalSiblings := len(fragments)

			localPos := 0
			for siblingIdx, fragment := range fragments {
				start := block.start + localPos
				if rel := strings.Index(block.text[localPos:], fragment); rel >= 0 {
					start = block.start + localPos + rel
				}
				end := start + len(fragment)
				localPos = end - block.start

				pageStart, pageEnd := pageRange(start, end, info.PageMarkers, info.TotalPages)
				processed = append(processed, Chunk{
					CourseID:               courseID,
					SlideID:                slideID,
					S3FileName:             s3FileName,
					Text:                   fragment,
					WordCount:              len(strings.Fields(fragment)),
					CharCount:              len(fragment),
					SplitLevel:             SplitLevelRecursive,
					OriginalChunkID:        block.origID,
					PageStart:              pageStart,
					PageEnd:                pageEnd,
					TotalPages:             info.TotalPages,
					HeadersHierarchy:       []int{},
					HeadersHierarchyTitles: []string{},
					CharStartPos:           start,
					CharEndPos:             end,
					SentenceSiblingCount:   totalSiblings,
					SentenceSiblingIndex:   siblingIdx,
					Timestamp:              now,
				})
			}
		}
	}

	// Reading order must survive the two-phase split before indices
	// and IDs are assigned.
	sort.SliceStable(processed, func(i, j int) bool {
		return processed[i].CharStartPos < processed[j].CharStartPos
	})
	for i := range processed {
		processed[i].ChunkIndex = i
		processed[i].ID = fmt.Sprintf("%s:%s:%d", courseID, slideID, i)
	}

	if err := validateSiblingContiguity(processed); err != nil {
		return nil, err
	}

	applyHeaderHierarchy(processed)

	options.Logger.Debug("chunking completed",
		"total", len(processed), "oversized_blocks", len(oversized))

	return processed, nil
}

// locateSpan finds a block's byte span in the source text, scanning
// forward from the cursor so repeated text resolves in order. A block
// that cannot be found (even trimmed) falls back to the cursor.
func locateSpan(markdown, blockText string, cursor int, logger *slog.Logger) (int, int) {
	if idx := strings.Index(markdown[cursor:], blockText); idx >= 0 {
		start := cursor + idx
		return start, start + len(blockText)
	}

	trimmed := strings.TrimSpace(blockText)
	if trimmed != "" {
		if idx := strings.Index(markdown[cursor:], trimmed); idx >= 0 {
			start := cursor + idx
			return start, start + len(blockText)
		}
	}

	logger.Warn("could not locate chunk in source text, using cursor position",
		"cursor", cursor, "chunk_chars", len(blockText))
	return cursor, cursor + len(blockText)
}

// splitByHeaders splits text into blocks at ATX heading lines, keeping
// each heading attached to the content that follows it. Headings
// inside fenced code blocks do not split.
func splitByHeaders(markdown string) []string {
	lines := strings.SplitAfter(markdown, "\n")

	var blocks []string
	var current strings.Builder
	inFence := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}

		if !inFence && isATXHeading(line) && current.Len() > 0 {
			blocks = append(blocks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		blocks = append(blocks, current.String())
	}

	return blocks
}

func isATXHeading(line string) bool {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	return i >= 1 && i <= 6 && i < len(line) && line[i] == ' '
}

// validateSiblingContiguity checks that every recursive fragment group
// occupies a contiguous chunk_index range with sibling indices counting
// 0..k-1 in order.
func validateSiblingContiguity(chunks []Chunk) error {
	groups := make(map[int][]int)
	for i, c := range chunks {
		groups[c.OriginalChunkID] = append(groups[c.OriginalChunkID], i)
	}

	for origID, indices := range groups {
		if len(indices) < 2 {
			continue
		}
		sort.Ints(indices)

		for i := 1; i < len(indices); i++ {
			if indices[i] != indices[i-1]+1 {
				return &InvariantError{
					OriginalChunkID: origID,
					Reason:          fmt.Sprintf("non-contiguous sibling indices %v", indices),
				}
			}
		}
		for pos, chunkIdx := range indices {
			if got := chunks[chunkIdx].SentenceSiblingIndex; got != pos {
				return &InvariantError{
					OriginalChunkID: origID,
					Reason:          fmt.Sprintf("chunk %d has sentence_sibling_index %d, want %d", chunkIdx, got, pos),
				}
			}
		}
	}

	return nil
}

var headerTextPattern = regexp.MustCompile(`^#+\s*(.+)$`)

func extractHeaderText(headerLine string) string {
	if m := headerTextPattern.FindStringSubmatch(headerLine); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(headerLine)
}

// applyHeaderHierarchy annotates each chunk with the chunk indices and
// titles of its enclosing headers. A single forward pass tracks the
// latest header seen at each level; a new header clears every deeper
// level. Header chunks list only strictly higher levels as ancestors.
func applyHeaderHierarchy(chunks []Chunk) {
	type headerRef struct {
		index int
		title string
		set   bool
	}
	var current [7]headerRef // levels 1..6

	for i := range chunks {
		chunk := &chunks[i]
		content := strings.TrimSpace(chunk.Text)

		level := 0
		if strings.HasPrefix(content, "#") {
			firstLine := content
			if nl := strings.IndexByte(content, '\n'); nl >= 0 {
				firstLine = strings.TrimSpace(content[:nl])
			}
			for _, ch := range firstLine {
				if ch != '#' {
					break
				}
				level++
			}

			if level >= 1 && level <= 6 {
				headerText := extractHeaderText(firstLine)

				for lvl := level + 1; lvl <= 6; lvl++ {
					current[lvl] = headerRef{}
				}
				current[level] = headerRef{
					index: chunk.ChunkIndex,
					title: fmt.Sprintf("H%d^%s", level, headerText),
					set:   true,
				}

				for lvl := 1; lvl < level; lvl++ {
					if current[lvl].set {
						chunk.HeadersHierarchy = append(chunk.HeadersHierarchy, current[lvl].index)
						chunk.HeadersHierarchyTitles = append(chunk.HeadersHierarchyTitles, current[lvl].title)
					}
				}

				chunk.IsHeader = true
				chunk.HeaderLevel = level
				chunk.HeaderText = headerText
				continue
			}
		}

		for lvl := 1; lvl <= 6; lvl++ {
			if current[lvl].set {
				chunk.HeadersHierarchy = append(chunk.HeadersHierarchy, current[lvl].index)
				chunk.HeadersHierarchyTitles = append(chunk.HeadersHierarchyTitles, current[lvl].title)
			}
		}
	}
}
