package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/models"
)

func newLiteratureFixture(t *testing.T, handler http.HandlerFunc) *LiteratureService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := testConfig()
	cfg.Search.OpenFDABaseURL = server.URL
	cfg.Search.DataGovBaseURL = server.URL + "/api/3/action"
	cfg.Search.DataGovKey = "dg-key"
	cfg.Search.OpenAlexURL = server.URL
	cfg.Search.OpenAlexMailto = "ops@example.com"
	cfg.Search.ScopusBaseURL = server.URL
	cfg.Search.ScopusKey = "els-key"
	return NewLiteratureService(NewOpenFDAClient(cfg), cfg)
}

func TestLiteratureSearchDataGov(t *testing.T) {
	svc := newLiteratureFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/3/action/package_search", r.URL.Path)
		assert.Equal(t, "dg-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "infusion pump", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("rows"))
		_, _ = w.Write([]byte(`{"success":true,"result":{"count":12,"results":[
			{"id":"d1","name":"maude-reports","title":"MAUDE Reports","notes":"Adverse events","metadata_created":"2021-04-02T10:00:00","organization":{"title":"FDA"}}
		]}}`))
	})

	results, err := svc.Search(context.Background(), models.LiteratureSourceDataGov, models.LiteratureQuery{Query: " infusion pump ", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 12, results.Count)
	require.Len(t, results.Results, 1)

	item := results.Results[0]
	assert.Equal(t, "MAUDE Reports", item.Title)
	assert.Equal(t, 2021, item.Year)
	assert.Equal(t, []string{"FDA"}, item.Authors)
	assert.Equal(t, "https://catalog.data.gov/dataset/maude-reports", item.URL)
	assert.Equal(t, models.LiteratureSourceDataGov, item.Source)
}

func TestLiteratureSearchOpenAlex(t *testing.T) {
	svc := newLiteratureFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/works", r.URL.Path)
		assert.Equal(t, "ops@example.com", r.URL.Query().Get("mailto"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"meta":{"count":40},"results":[{
			"id":"https://openalex.org/W123",
			"display_name":"Syringe safety",
			"publication_year":2019,
			"doi":"https://doi.org/10.1/abc",
			"authorships":[{"author":{"display_name":"A. Author"}},{"author":{"display_name":""}}],
			"abstract_inverted_index":{"Needlestick":[0],"injuries":[1],"remain":[2],"common":[3]}
		}]}`))
	})

	results, err := svc.Search(context.Background(), models.LiteratureSourceOpenAlex, models.LiteratureQuery{Query: "syringe", Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Equal(t, 40, results.Count)
	require.Len(t, results.Results, 1)

	item := results.Results[0]
	assert.Equal(t, "W123", item.ID)
	assert.Equal(t, []string{"A. Author"}, item.Authors)
	assert.Equal(t, "https://doi.org/10.1/abc", item.URL)
	assert.Equal(t, "Needlestick injuries remain common", item.Abstract)
}

func TestLiteratureSearchScopusSkipsErrorEntries(t *testing.T) {
	svc := newLiteratureFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/content/search/scopus", r.URL.Path)
		assert.Equal(t, "els-key", r.Header.Get("X-ELS-APIKey"))
		_, _ = w.Write([]byte(`{"search-results":{"opensearch:totalResults":"0","entry":[{"error":"Result set was empty"}]}}`))
	})

	results, err := svc.Search(context.Background(), models.LiteratureSourceScopus, models.LiteratureQuery{Query: "catheter"})
	require.NoError(t, err)
	assert.Zero(t, results.Count)
	assert.Empty(t, results.Results)
}

func TestLiteratureSearchOpenFDAByProductCode(t *testing.T) {
	svc := newLiteratureFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "product_code:FMF", r.URL.Query().Get("search"))
		_, _ = w.Write([]byte(syringeClassification))
	})

	results, err := svc.Search(context.Background(), models.LiteratureSourceOpenFDA, models.LiteratureQuery{Query: "FMF"})
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "FMF", results.Results[0].ID)
	assert.Equal(t, "2", results.Results[0].Extra["device_class"])
}

func TestLiteratureSearchPassesUpstreamStatusThrough(t *testing.T) {
	svc := newLiteratureFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
	})

	_, err := svc.Search(context.Background(), models.LiteratureSourceOpenAlex, models.LiteratureQuery{Query: "pump"})

	var upstream *apperrors.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
	assert.Equal(t, "openalex", upstream.Source)
	assert.Contains(t, upstream.Body, "quota exceeded")
}

func TestLiteratureSearchValidation(t *testing.T) {
	svc := newLiteratureFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no upstream call expected")
	})

	_, err := svc.Search(context.Background(), models.LiteratureSourceOpenAlex, models.LiteratureQuery{Query: "  "})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Search(context.Background(), "pubmed", models.LiteratureQuery{Query: "pump"})
	assert.True(t, apperrors.IsValidation(err))
}
