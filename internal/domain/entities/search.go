package entities

// SearchFilters narrows a text search
type SearchFilters struct {
	CategoryID string   `json:"category_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
}
