package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/models"
)

func TestStartAnalysisForwardsTokenAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/start-analysis", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var body models.StartAnalysisRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"FMF"}, body.ProductCodes)
		assert.Equal(t, "Syringe", body.ProductName)

		_ = json.NewEncoder(w).Encode(map[string]string{"analysis_id": "a-1", "task_id": "t-1"})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	ctx := WithToken(context.Background(), "tok-123")

	resp, err := client.StartAnalysis(ctx, &models.StartAnalysisRequest{
		ProductCodes: []string{"FMF"},
		ProductName:  "Syringe",
	})
	require.NoError(t, err)
	assert.Equal(t, "a-1", resp.AnalysisID)
	assert.Equal(t, "t-1", resp.TaskID)
}

func TestBackendErrorCarriesDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"product codes are not recognised"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.AnalysisStatus(context.Background(), "a-1")

	var backendErr *apperrors.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusUnprocessableEntity, backendErr.Status)
	assert.Equal(t, "product codes are not recognised", backendErr.Detail)
}

func TestUnauthorizedMapsToUnauthorizedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"token expired"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.Transactions(context.Background(), 10, 0)

	assert.True(t, apperrors.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "token expired")
}

func TestGroupedDetailsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyses/a-1/pha/grouped-details", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "20", q.Get("page_size"))
		assert.Equal(t, "High", q.Get("severity_level"))
		assert.Equal(t, "needle", q.Get("search_keyword"))
		assert.Empty(t, q.Get("include_unprocessed"))

		_ = json.NewEncoder(w).Encode(models.AnalysisResults{
			Status:             models.AnalysisStatusGenerating,
			TotalDetailRecords: 150,
			PlanTotalRecords:   100,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	results, err := client.GroupedDetails(context.Background(), "a-1", models.ResultsQuery{
		PageSize:      500,
		SeverityLevel: "High",
		SearchKeyword: "needle",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusGenerating, results.Status)
	assert.Equal(t, 100.0, results.Progress().DetailPercent)
}

func TestCreateOrderSendsIdempotencyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/create", r.URL.Path)
		assert.Equal(t, "order_abc", r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(models.CreateOrderResponse{OrderID: "o-1", Completed: true})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	resp, err := client.CreateOrder(context.Background(), &models.CreateOrderRequest{ProductType: "pha_analysis"}, "order_abc")
	require.NoError(t, err)
	assert.True(t, resp.Completed)
	assert.Equal(t, "o-1", resp.OrderID)
}

func TestOrderStatusAndMetadataPaths(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"paid":true}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	status, err := client.OrderStatus(context.Background(), "pha_analysis", "o-1")
	require.NoError(t, err)
	assert.True(t, status.Paid)

	require.NoError(t, client.UpdateOrderMetadata(context.Background(), "o-1", &models.OrderMetadataUpdate{AnalysisID: "a-1"}))
	assert.Equal(t, []string{"GET /orders/pha_analysis/o-1/status", "PUT /orders/o-1/metadata"}, paths)
}

func TestExportUsesContentDisposition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="report.csv"`)
		_, _ = w.Write([]byte("hazard,harm\n"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	report, err := client.Export(context.Background(), "a-1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "report.csv", report.Filename)
	assert.Equal(t, "text/csv", report.ContentType)
	assert.Equal(t, "hazard,harm\n", string(report.Body))
}
