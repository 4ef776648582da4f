// internal/services/openfda_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
)

const fdaClassificationLink = "https://www.accessdata.fda.gov/scripts/cdrh/cfdocs/cfPCD/classification.cfm?id="

// OpenFDAClient queries the openFDA device classification dataset.
type OpenFDAClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type fdaClassificationResponse struct {
	Meta struct {
		Results struct {
			Skip  int `json:"skip"`
			Limit int `json:"limit"`
			Total int `json:"total"`
		} `json:"results"`
	} `json:"meta"`
	Results []fdaClassification `json:"results"`
}

type fdaClassification struct {
	DeviceName                  string `json:"device_name"`
	ProductCode                 string `json:"product_code"`
	DeviceClass                 string `json:"device_class"`
	RegulationNumber            string `json:"regulation_number"`
	MedicalSpecialty            string `json:"medical_specialty"`
	MedicalSpecialtyDescription string `json:"medical_specialty_description"`
	Definition                  string `json:"definition"`
	ReviewPanel                 string `json:"review_panel"`
}

func NewOpenFDAClient(cfg *config.Config) *OpenFDAClient {
	return &OpenFDAClient{
		baseURL:    strings.TrimRight(cfg.Search.OpenFDABaseURL, "/"),
		apiKey:     cfg.Search.OpenFDAKey,
		httpClient: &http.Client{Timeout: defaultTimeout(cfg.Search.Timeout)},
	}
}

// Classify searches by device name keywords or by exact product code. An empty
// match is not an error.
func (c *OpenFDAClient) Classify(ctx context.Context, query string, searchType models.SearchType, limit, skip int) ([]fdaClassification, int, error) {
	params := url.Values{}
	params.Set("search", fdaSearchExpression(query, searchType))
	params.Set("limit", strconv.Itoa(limit))
	if skip > 0 {
		params.Set("skip", strconv.Itoa(skip))
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/device/classification.json?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("openfda request failed: %w", err)
	}
	defer resp.Body.Close()

	// openFDA answers 404 when nothing matches
	if resp.StatusCode == http.StatusNotFound {
		return nil, 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, 0, &apperrors.UpstreamError{Source: string(models.LiteratureSourceOpenFDA), Status: resp.StatusCode, Body: string(body)}
	}

	var payload fdaClassificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode openfda response: %w", err)
	}
	return payload.Results, payload.Meta.Results.Total, nil
}

func fdaSearchExpression(query string, searchType models.SearchType) string {
	query = strings.TrimSpace(query)
	if searchType == models.SearchTypeProductCode {
		return "product_code:" + strings.ToUpper(query)
	}

	terms := strings.Fields(strings.ToLower(query))
	clauses := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.Trim(term, `"'()[]:`)
		if term == "" {
			continue
		}
		clauses = append(clauses, "device_name:"+term)
	}
	return strings.Join(clauses, " AND ")
}

func (r fdaClassification) toSimilarProduct() models.SimilarProduct {
	specialty := r.MedicalSpecialtyDescription
	if specialty == "" {
		specialty = r.MedicalSpecialty
	}
	return models.SimilarProduct{
		ID:                    "fda-" + r.ProductCode,
		ProductCode:           r.ProductCode,
		Device:                r.DeviceName,
		RegulationDescription: r.Definition,
		MedicalSpecialty:      specialty,
		FDAClassificationLink: fdaClassificationLink + r.ProductCode,
		Source:                models.ProductSourceFDA,
		DeviceClass:           r.DeviceClass,
		RegulationNumber:      r.RegulationNumber,
	}
}

func defaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
