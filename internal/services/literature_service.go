// internal/services/literature_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/utils"
)

// LiteratureService proxies dataset and literature searches, injecting API keys
// server-side and normalizing every upstream into one result shape.
type LiteratureService struct {
	cfg        config.SearchConfig
	fda        *OpenFDAClient
	httpClient *http.Client
}

func NewLiteratureService(fda *OpenFDAClient, cfg *config.Config) *LiteratureService {
	return &LiteratureService{
		cfg:        cfg.Search,
		fda:        fda,
		httpClient: &http.Client{Timeout: defaultTimeout(cfg.Search.Timeout)},
	}
}

func (s *LiteratureService) Search(ctx context.Context, source models.LiteratureSource, q models.LiteratureQuery) (*models.LiteratureResults, error) {
	q.Query = strings.TrimSpace(q.Query)
	if err := utils.ValidateStruct(&q); err != nil {
		return nil, utils.AsValidationError(err)
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = s.cfg.ResultLimit
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		results *models.LiteratureResults
		err     error
	)
	switch source {
	case models.LiteratureSourceDataGov:
		results, err = s.searchDataGov(ctx, q)
	case models.LiteratureSourceOpenAlex:
		results, err = s.searchOpenAlex(ctx, q)
	case models.LiteratureSourceScopus:
		results, err = s.searchScopus(ctx, q)
	case models.LiteratureSourceOpenFDA:
		results, err = s.searchOpenFDA(ctx, q)
	default:
		return nil, apperrors.NewValidationError("source", fmt.Sprintf("unknown search source %q", source))
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"source": source,
		"count":  results.Count,
	}).Debug("Literature search completed")
	return results, nil
}

// data.gov (CKAN package_search)

type dataGovResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Count   int              `json:"count"`
		Results []dataGovPackage `json:"results"`
	} `json:"result"`
}

type dataGovPackage struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Title           string `json:"title"`
	Notes           string `json:"notes"`
	MetadataCreated string `json:"metadata_created"`
	Organization    *struct {
		Title string `json:"title"`
	} `json:"organization"`
}

func (s *LiteratureService) searchDataGov(ctx context.Context, q models.LiteratureQuery) (*models.LiteratureResults, error) {
	params := url.Values{
		"q":     {q.Query},
		"rows":  {strconv.Itoa(q.Limit)},
		"start": {strconv.Itoa(q.Offset)},
	}
	headers := map[string]string{}
	if s.cfg.DataGovKey != "" {
		headers["X-Api-Key"] = s.cfg.DataGovKey
	}

	var payload dataGovResponse
	endpoint := strings.TrimRight(s.cfg.DataGovBaseURL, "/") + "/package_search?" + params.Encode()
	if err := s.getJSON(ctx, models.LiteratureSourceDataGov, endpoint, headers, &payload); err != nil {
		return nil, err
	}

	items := make([]models.LiteratureItem, 0, len(payload.Result.Results))
	for _, p := range payload.Result.Results {
		item := models.LiteratureItem{
			ID:       p.ID,
			Title:    firstNonEmpty(p.Title, p.Name),
			Year:     yearOf(p.MetadataCreated),
			Source:   models.LiteratureSourceDataGov,
			URL:      "https://catalog.data.gov/dataset/" + p.Name,
			Abstract: p.Notes,
		}
		if p.Organization != nil && p.Organization.Title != "" {
			item.Authors = []string{p.Organization.Title}
		}
		items = append(items, item)
	}
	return &models.LiteratureResults{Count: payload.Result.Count, Results: items}, nil
}

// OpenAlex works

type openAlexResponse struct {
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	Title           string `json:"title"`
	PublicationYear int    `json:"publication_year"`
	DOI             string `json:"doi"`
	Authorships     []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	PrimaryLocation       *struct {
		LandingPageURL string `json:"landing_page_url"`
	} `json:"primary_location"`
}

func (s *LiteratureService) searchOpenAlex(ctx context.Context, q models.LiteratureQuery) (*models.LiteratureResults, error) {
	params := url.Values{
		"search":   {q.Query},
		"per-page": {strconv.Itoa(q.Limit)},
		"page":     {strconv.Itoa(q.Offset/q.Limit + 1)},
	}
	if s.cfg.OpenAlexMailto != "" {
		params.Set("mailto", s.cfg.OpenAlexMailto)
	}

	var payload openAlexResponse
	endpoint := strings.TrimRight(s.cfg.OpenAlexURL, "/") + "/works?" + params.Encode()
	if err := s.getJSON(ctx, models.LiteratureSourceOpenAlex, endpoint, nil, &payload); err != nil {
		return nil, err
	}

	items := make([]models.LiteratureItem, 0, len(payload.Results))
	for _, w := range payload.Results {
		authors := make([]string, 0, len(w.Authorships))
		for _, a := range w.Authorships {
			if a.Author.DisplayName != "" {
				authors = append(authors, a.Author.DisplayName)
			}
		}
		link := w.DOI
		if link == "" && w.PrimaryLocation != nil {
			link = w.PrimaryLocation.LandingPageURL
		}
		items = append(items, models.LiteratureItem{
			ID:       strings.TrimPrefix(w.ID, "https://openalex.org/"),
			Title:    firstNonEmpty(w.DisplayName, w.Title),
			Authors:  authors,
			Year:     w.PublicationYear,
			Source:   models.LiteratureSourceOpenAlex,
			URL:      firstNonEmpty(link, w.ID),
			Abstract: rebuildAbstract(w.AbstractInvertedIndex),
		})
	}
	return &models.LiteratureResults{Count: payload.Meta.Count, Results: items}, nil
}

// rebuildAbstract turns OpenAlex's word -> positions index back into text.
func rebuildAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type placed struct {
		pos  int
		word string
	}
	words := make([]placed, 0, len(index)*2)
	for word, positions := range index {
		for _, pos := range positions {
			words = append(words, placed{pos: pos, word: word})
		}
	}
	sort.Slice(words, func(i, j int) bool { return words[i].pos < words[j].pos })

	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.word
	}
	return strings.Join(parts, " ")
}

// Scopus search

type scopusResponse struct {
	SearchResults struct {
		TotalResults string        `json:"opensearch:totalResults"`
		Entry        []scopusEntry `json:"entry"`
	} `json:"search-results"`
}

type scopusEntry struct {
	Identifier      string `json:"dc:identifier"`
	Title           string `json:"dc:title"`
	Creator         string `json:"dc:creator"`
	CoverDate       string `json:"prism:coverDate"`
	DOI             string `json:"prism:doi"`
	PublicationName string `json:"prism:publicationName"`
	Description     string `json:"dc:description"`
	Error           string `json:"error"`
	Link            []struct {
		Ref  string `json:"@ref"`
		Href string `json:"@href"`
	} `json:"link"`
}

func (s *LiteratureService) searchScopus(ctx context.Context, q models.LiteratureQuery) (*models.LiteratureResults, error) {
	params := url.Values{
		"query": {q.Query},
		"count": {strconv.Itoa(q.Limit)},
		"start": {strconv.Itoa(q.Offset)},
	}
	headers := map[string]string{}
	if s.cfg.ScopusKey != "" {
		headers["X-ELS-APIKey"] = s.cfg.ScopusKey
	}

	var payload scopusResponse
	endpoint := strings.TrimRight(s.cfg.ScopusBaseURL, "/") + "/content/search/scopus?" + params.Encode()
	if err := s.getJSON(ctx, models.LiteratureSourceScopus, endpoint, headers, &payload); err != nil {
		return nil, err
	}

	items := make([]models.LiteratureItem, 0, len(payload.SearchResults.Entry))
	for _, e := range payload.SearchResults.Entry {
		// An empty result set comes back as a single entry carrying an error
		if e.Error != "" {
			continue
		}
		item := models.LiteratureItem{
			ID:       strings.TrimPrefix(e.Identifier, "SCOPUS_ID:"),
			Title:    e.Title,
			Year:     yearOf(e.CoverDate),
			Source:   models.LiteratureSourceScopus,
			Abstract: e.Description,
		}
		if e.Creator != "" {
			item.Authors = []string{e.Creator}
		}
		for _, l := range e.Link {
			if l.Ref == "scopus" {
				item.URL = l.Href
			}
		}
		if item.URL == "" && e.DOI != "" {
			item.URL = "https://doi.org/" + e.DOI
		}
		if e.PublicationName != "" {
			item.Extra = models.JSONB{"publication": e.PublicationName}
		}
		items = append(items, item)
	}

	count, _ := strconv.Atoi(payload.SearchResults.TotalResults)
	return &models.LiteratureResults{Count: count, Results: items}, nil
}

// openFDA classification

func (s *LiteratureService) searchOpenFDA(ctx context.Context, q models.LiteratureQuery) (*models.LiteratureResults, error) {
	searchType := models.SearchTypeKeywords
	if utils.IsProductCode(q.Query) {
		searchType = models.SearchTypeProductCode
	}

	records, total, err := s.fda.Classify(ctx, q.Query, searchType, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}

	items := make([]models.LiteratureItem, 0, len(records))
	for _, r := range records {
		p := r.toSimilarProduct()
		items = append(items, models.LiteratureItem{
			ID:       r.ProductCode,
			Title:    r.DeviceName,
			Source:   models.LiteratureSourceOpenFDA,
			URL:      p.FDAClassificationLink,
			Abstract: r.Definition,
			Extra: models.JSONB{
				"product_code":      r.ProductCode,
				"device_class":      r.DeviceClass,
				"regulation_number": r.RegulationNumber,
				"medical_specialty": p.MedicalSpecialty,
			},
		})
	}
	return &models.LiteratureResults{Count: total, Results: items}, nil
}

func (s *LiteratureService) getJSON(ctx context.Context, source models.LiteratureSource, endpoint string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &apperrors.UpstreamError{Source: string(source), Status: http.StatusBadGateway, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &apperrors.UpstreamError{Source: string(source), Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", source, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}
