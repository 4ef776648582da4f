// internal/models/workflow.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type WorkflowStep string

const (
	StepDeviceName          WorkflowStep = "device-name"
	StepProductCodeQuestion WorkflowStep = "product-code-question"
	StepProductCodeInput    WorkflowStep = "product-code-input"
	StepIntendedUseQuestion WorkflowStep = "intended-use-question"
	StepIntendedUseInput    WorkflowStep = "intended-use-input"
	StepSearchingProducts   WorkflowStep = "searching-products"
	StepSimilarProducts     WorkflowStep = "similar-products"
	StepNoProductsFound     WorkflowStep = "no-products-found"
	StepProductSelection    WorkflowStep = "product-selection"
	StepGenerating          WorkflowStep = "generating"
	StepCompleted           WorkflowStep = "completed"
)

type FlowVariant string

const (
	FlowProductCode FlowVariant = "product-code"
	FlowIntendedUse FlowVariant = "intended-use"
)

type MessageType string

const (
	MessageTypeAI   MessageType = "ai"
	MessageTypeUser MessageType = "user"
)

type Message struct {
	ID        string       `json:"id"`
	Type      MessageType  `json:"type"`
	Content   string       `json:"content"`
	Step      WorkflowStep `json:"step,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type SearchType string

const (
	SearchTypeKeywords    SearchType = "keywords"
	SearchTypeProductCode SearchType = "product-code"
)

type ProductSource string

const (
	ProductSourceFDA   ProductSource = "fda"
	ProductSourceAI    ProductSource = "ai"
	ProductSourceCache ProductSource = "cache"
	ProductSourceMock  ProductSource = "mock"
)

type SimilarProduct struct {
	ID                    string        `json:"id"`
	ProductCode           string        `json:"productCode"`
	Device                string        `json:"device"`
	RegulationDescription string        `json:"regulationDescription"`
	MedicalSpecialty      string        `json:"medicalSpecialty"`
	FDAClassificationLink string        `json:"fdaClassificationLink,omitempty"`
	Source                ProductSource `json:"source,omitempty"`
	DeviceClass           string        `json:"deviceClass,omitempty"`
	RegulationNumber      string        `json:"regulationNumber,omitempty"`

	// AI-sourced suggestions only
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ProductSearchResult separates provider results from AI suggestions.
type ProductSearchResult struct {
	FDAProducts []SimilarProduct `json:"fdaProducts"`
	AIProducts  []SimilarProduct `json:"aiProducts"`
	Degraded    bool             `json:"degraded,omitempty"`
}

func (r ProductSearchResult) All() []SimilarProduct {
	all := make([]SimilarProduct, 0, len(r.FDAProducts)+len(r.AIProducts))
	all = append(all, r.FDAProducts...)
	return append(all, r.AIProducts...)
}

func (r ProductSearchResult) Empty() bool {
	return len(r.FDAProducts) == 0 && len(r.AIProducts) == 0
}

// WorkflowSession is the persisted snapshot of a workflow.
type WorkflowSession struct {
	BaseModel
	UserID        string         `json:"user_id" gorm:"size:128;not null;index"`
	Step          WorkflowStep   `json:"step" gorm:"type:varchar(32);not null;index"`
	FlowVariant   FlowVariant    `json:"flow_variant" gorm:"type:varchar(20)"`
	DeviceName    string         `json:"device_name" gorm:"size:255"`
	IntendedUse   string         `json:"intended_use" gorm:"type:text"`
	ProductCode   string         `json:"product_code" gorm:"size:3"`
	SearchType    SearchType     `json:"search_type" gorm:"type:varchar(20)"`
	Products      ProductList    `json:"products" gorm:"type:jsonb"`
	SelectedIDs   pq.StringArray `json:"selected_ids" gorm:"type:text[]"`
	Messages      MessageLog     `json:"messages" gorm:"type:jsonb"`
	AnalysisID    string         `json:"analysis_id,omitempty" gorm:"size:128;index"`
	TaskID        string         `json:"task_id,omitempty" gorm:"size:128"`
	OrderID       string         `json:"order_id,omitempty" gorm:"size:128"`
	LastError     string         `json:"last_error,omitempty" gorm:"type:text"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	AnalysisState AnalysisStatus `json:"analysis_status,omitempty" gorm:"type:varchar(20)"`
}

func NewMessage(kind MessageType, content string, step WorkflowStep) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      kind,
		Content:   content,
		Step:      step,
		Timestamp: time.Now().UTC(),
	}
}
