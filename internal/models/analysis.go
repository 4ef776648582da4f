// internal/models/analysis.go
package models

import "math"

type AnalysisStatus string

const (
	AnalysisStatusGenerating AnalysisStatus = "Generating"
	AnalysisStatusCompleted  AnalysisStatus = "Completed"
	AnalysisStatusFailed     AnalysisStatus = "Failed"
)

// Terminal reports whether polling should stop.
func (s AnalysisStatus) Terminal() bool {
	return s != AnalysisStatusGenerating
}

type StartAnalysisRequest struct {
	ProductCodes        []string         `json:"product_codes" validate:"required,min=1,dive,product_code"`
	SimilarProducts     []SimilarProduct `json:"similar_products"`
	ProductName         string           `json:"product_name" validate:"notblank"`
	IntendedUseSnapshot string           `json:"intended_use_snapshot,omitempty"`
	OrderID             string           `json:"order_id,omitempty"`
}

type StartAnalysisResponse struct {
	AnalysisID string `json:"analysis_id"`
	TaskID     string `json:"task_id"`
}

type AnalysisStatusResponse struct {
	Status AnalysisStatus `json:"status"`
	Detail string         `json:"detail"`
}

type AnalysisSummary struct {
	ID          string         `json:"id"`
	ProductName string         `json:"product_name"`
	Status      AnalysisStatus `json:"status"`
	CreatedAt   string         `json:"created_at"`
}

type AnalysisList struct {
	Results []AnalysisSummary `json:"results"`
	Total   int               `json:"total"`
}

type ResultsQuery struct {
	Page               int    `form:"page" json:"page"`
	PageSize           int    `form:"page_size" json:"page_size"`
	SeverityLevel      string `form:"severity_level" json:"severity_level,omitempty"`
	SearchKeyword      string `form:"search_keyword" json:"search_keyword,omitempty"`
	IncludeUnprocessed bool   `form:"include_unprocessed" json:"include_unprocessed,omitempty"`
}

func (q ResultsQuery) Normalized() ResultsQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	return q
}

type HazardGroup struct {
	Hazard        string `json:"hazard"`
	PotentialHarm string `json:"potential_harm"`
	Severity      string `json:"severity"`
	RecordCount   int    `json:"record_count"`
	Processed     bool   `json:"processed"`
}

// AnalysisResults is one page of grouped hazard details. Progress counters are
// only populated while the backend is still generating.
type AnalysisResults struct {
	Results            []HazardGroup  `json:"results"`
	Total              int            `json:"total"`
	TotalPages         int            `json:"total_pages"`
	TotalRecords       int            `json:"total_records"`
	Status             AnalysisStatus `json:"status"`
	TotalDetailRecords int            `json:"total_detail_records"`
	PlanTotalRecords   int            `json:"plan_total_records"`
	AICurrentCount     int            `json:"ai_current_count"`
	AITotalRecords     int            `json:"ai_total_records"`
}

type Progress struct {
	DetailPercent float64 `json:"detail_percent"`
	AIPercent     float64 `json:"ai_percent"`
}

// Percent returns current/total as a percentage clamped to [0, 100].
func Percent(current, total int) float64 {
	if total <= 0 || current <= 0 {
		return 0
	}
	return math.Min(100, float64(current)/float64(total)*100)
}

func (r *AnalysisResults) Progress() Progress {
	return Progress{
		DetailPercent: Percent(r.TotalDetailRecords, r.PlanTotalRecords),
		AIPercent:     Percent(r.AICurrentCount, r.AITotalRecords),
	}
}

type GroupRecordsQuery struct {
	Hazard        string `form:"hazard" json:"hazard" validate:"required"`
	PotentialHarm string `form:"potential_harm" json:"potential_harm"`
	Severity      string `form:"severity" json:"severity"`
}

type GroupRecords struct {
	Records []JSONB `json:"records"`
	Count   int     `json:"count"`
}

type AnalysisFilters struct {
	SeverityLevels []string `json:"severity_levels"`
	Hazards        []string `json:"hazards"`
	PotentialHarms []string `json:"potential_harms"`
}

type DownloadTaskStatus string

const (
	DownloadTaskPending    DownloadTaskStatus = "PENDING"
	DownloadTaskGenerating DownloadTaskStatus = "GENERATING"
	DownloadTaskCompleted  DownloadTaskStatus = "COMPLETED"
	DownloadTaskFailed     DownloadTaskStatus = "FAILED"
)

func (s DownloadTaskStatus) Terminal() bool {
	return s == DownloadTaskCompleted || s == DownloadTaskFailed
}

type DownloadTask struct {
	ID                  string             `json:"id"`
	AnalysisID          string             `json:"analysis_id"`
	Status              DownloadTaskStatus `json:"status"`
	CurrentDetailsCount int                `json:"current_details_count"`
	TotalDetailsCount   int                `json:"total_details_count"`
	IsDownloaded        bool               `json:"is_downloaded"`
}

func (t DownloadTask) Percent() float64 {
	return Percent(t.CurrentDetailsCount, t.TotalDetailsCount)
}

// ExportedReport is a rendered report returned by the export endpoint.
type ExportedReport struct {
	Format      string
	ContentType string
	Filename    string
	Body        []byte
}
