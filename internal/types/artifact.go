package types

// Artifact is the structured product produced by the generator
type Artifact struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Tags        []string  `json:"tags"`
	TaxonomyID  int       `json:"taxonomy_id,omitempty"`
	ImageURLs   []string  `json:"image_urls,omitempty"`
	Sections    []Section `json:"sections"`
}

// Section is one titled block of the artifact body
type Section struct {
	Heading string   `json:"heading"`
	Body    string   `json:"body,omitempty"`
	Items   []string `json:"items,omitempty"`
}

// QualityResult is the quality gate verdict
type QualityResult struct {
	Passed   bool               `json:"passed"`
	Scores   map[string]float64 `json:"scores"`
	Feedback string             `json:"feedback,omitempty"`
}

// Blob is a serialized artifact ready for upload
type Blob struct {
	Data        []byte
	FileName    string
	ContentType string
}
