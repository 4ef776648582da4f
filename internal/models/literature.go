// internal/models/literature.go
package models

type LiteratureSource string

const (
	LiteratureSourceDataGov  LiteratureSource = "datagov"
	LiteratureSourceOpenAlex LiteratureSource = "openalex"
	LiteratureSourceScopus   LiteratureSource = "scopus"
	LiteratureSourceOpenFDA  LiteratureSource = "openfda"
)

// LiteratureItem is the normalized record every upstream is mapped into.
type LiteratureItem struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Authors  []string         `json:"authors,omitempty"`
	Year     int              `json:"year,omitempty"`
	Source   LiteratureSource `json:"source"`
	URL      string           `json:"url,omitempty"`
	Abstract string           `json:"abstract,omitempty"`
	Extra    JSONB            `json:"extra,omitempty"`
}

type LiteratureResults struct {
	Count   int              `json:"count"`
	Results []LiteratureItem `json:"results"`
}

type LiteratureQuery struct {
	Query  string `form:"q" validate:"notblank"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}
