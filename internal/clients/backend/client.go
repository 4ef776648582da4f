// internal/clients/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/models"
)

type tokenKey struct{}

// WithToken attaches the caller's bearer token; every backend call made with the
// returned context forwards it.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Client talks to the analysis and orders backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Analysis API

func (c *Client) StartAnalysis(ctx context.Context, req *models.StartAnalysisRequest) (*models.StartAnalysisResponse, error) {
	out := &models.StartAnalysisResponse{}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("start-analysis", nil), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AnalysisStatus(ctx context.Context, analysisID string) (*models.AnalysisStatusResponse, error) {
	query := url.Values{"analysis_id": {analysisID}}
	out := &models.AnalysisStatusResponse{}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("analysis-status", query), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListAnalyses(ctx context.Context, status models.AnalysisStatus, limit int) (*models.AnalysisList, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", string(status))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	out := &models.AnalysisList{}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("analyses", query), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GroupedDetails(ctx context.Context, analysisID string, q models.ResultsQuery) (*models.AnalysisResults, error) {
	q = q.Normalized()
	query := url.Values{
		"page":      {strconv.Itoa(q.Page)},
		"page_size": {strconv.Itoa(q.PageSize)},
	}
	if q.SeverityLevel != "" {
		query.Set("severity_level", q.SeverityLevel)
	}
	if q.SearchKeyword != "" {
		query.Set("search_keyword", q.SearchKeyword)
	}
	if q.IncludeUnprocessed {
		query.Set("include_unprocessed", "true")
	}

	out := &models.AnalysisResults{}
	if err := c.doJSON(ctx, http.MethodGet, c.analysisEndpoint(analysisID, "pha/grouped-details", query), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GroupRecords(ctx context.Context, analysisID string, q models.GroupRecordsQuery) (*models.GroupRecords, error) {
	query := url.Values{"hazard": {q.Hazard}}
	if q.PotentialHarm != "" {
		query.Set("potential_harm", q.PotentialHarm)
	}
	if q.Severity != "" {
		query.Set("severity", q.Severity)
	}
	out := &models.GroupRecords{}
	if err := c.doJSON(ctx, http.MethodGet, c.analysisEndpoint(analysisID, "pha/group-records", query), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FullFilters(ctx context.Context, analysisID string) (*models.AnalysisFilters, error) {
	out := &models.AnalysisFilters{}
	if err := c.doJSON(ctx, http.MethodGet, c.analysisEndpoint(analysisID, "pha/full_filters", nil), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RestartFullAnalysis(ctx context.Context, analysisID string) error {
	body := map[string]string{"analysis_id": analysisID}
	return c.doJSON(ctx, http.MethodPost, c.endpoint("restart-full-analysis", nil), body, nil)
}

func (c *Client) Export(ctx context.Context, analysisID, format string) (*models.ExportedReport, error) {
	query := url.Values{"format": {format}}
	resp, err := c.do(ctx, http.MethodGet, c.analysisEndpoint(analysisID, "pha/export", query), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read export body: %w", err)
	}

	filename := fmt.Sprintf("pha-%s.%s", analysisID, format)
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		if idx := strings.Index(disposition, "filename="); idx >= 0 {
			filename = strings.Trim(disposition[idx+len("filename="):], `"; `)
		}
	}

	return &models.ExportedReport{
		Format:      format,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filename,
		Body:        body,
	}, nil
}

func (c *Client) DownloadTasks(ctx context.Context, analysisID string) ([]models.DownloadTask, error) {
	var out struct {
		Tasks []models.DownloadTask `json:"tasks"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.analysisEndpoint(analysisID, "download-tasks", nil), nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) CreateDownloadTask(ctx context.Context, analysisID, format string) (*models.DownloadTask, error) {
	body := map[string]string{"format": format}
	out := &models.DownloadTask{}
	if err := c.doJSON(ctx, http.MethodPost, c.analysisEndpoint(analysisID, "download-tasks", nil), body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Orders API

func (c *Client) CreateOrder(ctx context.Context, req *models.CreateOrderRequest, idempotencyKey string) (*models.CreateOrderResponse, error) {
	out := &models.CreateOrderResponse{}
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	if err := c.doJSONWithHeaders(ctx, http.MethodPost, c.endpoint("orders/create", nil), req, out, headers); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ValidateCoupon(ctx context.Context, req *models.ValidateCouponRequest) (*models.CouponValidation, error) {
	out := &models.CouponValidation{}
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("orders/validate-coupon", nil), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OrderStatus(ctx context.Context, productType, orderID string) (*models.OrderStatus, error) {
	path := fmt.Sprintf("orders/%s/%s/status", url.PathEscape(productType), url.PathEscape(orderID))
	out := &models.OrderStatus{}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint(path, nil), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Transactions(ctx context.Context, limit, offset int) (*models.TransactionList, error) {
	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	out := &models.TransactionList{}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("orders/transactions", query), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateOrderMetadata(ctx context.Context, orderID string, update *models.OrderMetadataUpdate) error {
	path := fmt.Sprintf("orders/%s/metadata", url.PathEscape(orderID))
	return c.doJSON(ctx, http.MethodPut, c.endpoint(path, nil), update, nil)
}

// Plumbing

func (c *Client) endpoint(path string, query url.Values) string {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

func (c *Client) analysisEndpoint(analysisID, suffix string, query url.Values) string {
	return c.endpoint(fmt.Sprintf("analyses/%s/%s", url.PathEscape(analysisID), suffix), query)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, in, out interface{}) error {
	return c.doJSONWithHeaders(ctx, method, endpoint, in, out, nil)
}

func (c *Client) doJSONWithHeaders(ctx context.Context, method, endpoint string, in, out interface{}, headers map[string]string) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	resp, err := c.doWithHeaders(ctx, method, endpoint, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	return c.doWithHeaders(ctx, method, endpoint, body, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, endpoint string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := tokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request %s %s failed: %w", method, req.URL.Path, err)
	}

	logrus.WithFields(logrus.Fields{
		"method":   method,
		"path":     req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Milliseconds(),
	}).Debug("Backend request")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	detail := readErrorDetail(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &apperrors.UnauthorizedError{Detail: detail}
	}
	return nil, &apperrors.BackendError{Status: resp.StatusCode, Detail: detail}
}

// readErrorDetail pulls the human readable message out of an error body.
func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(string(raw))
	}

	for _, field := range []json.RawMessage{payload.Detail, payload.Error} {
		if len(field) == 0 {
			continue
		}
		var s string
		if json.Unmarshal(field, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(field, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		return string(field)
	}

	if payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(raw))
}
