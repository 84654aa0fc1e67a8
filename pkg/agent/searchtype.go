package agent

import "strings"

// SearchType selects which retrieval tools a conversation turn may use.
type SearchType string

const (
	SearchTypeDefault SearchType = "DEFAULT"
	SearchTypeRag     SearchType = "RAG"
	SearchTypeWeb     SearchType = "WEB"
	SearchTypeRagWeb  SearchType = "RAG_WEB"
)

// ParseSearchType maps a request string to a search type. Unknown
// values degrade to DEFAULT rather than failing the request.
func ParseSearchType(s string) SearchType {
	switch SearchType(strings.ToUpper(strings.TrimSpace(s))) {
	case SearchTypeRag:
		return SearchTypeRag
	case SearchTypeWeb:
		return SearchTypeWeb
	case SearchTypeRagWeb:
		return SearchTypeRagWeb
	default:
		return SearchTypeDefault
	}
}

// ValidSearchType reports whether s names one of the four search types
// exactly.
func ValidSearchType(s string) bool {
	switch SearchType(s) {
	case SearchTypeDefault, SearchTypeRag, SearchTypeWeb, SearchTypeRagWeb:
		return true
	default:
		return false
	}
}
