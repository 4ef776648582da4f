// internal/services/product_search_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/utils"
)

type ProductSearchQuery struct {
	Query       string            `json:"query"`
	SearchType  models.SearchType `json:"search_type"`
	DeviceName  string            `json:"device_name,omitempty"`
	IntendedUse string            `json:"intended_use,omitempty"`
}

// ProductSuggester proposes similar predicate devices when the FDA search is empty.
type ProductSuggester interface {
	Suggest(ctx context.Context, deviceName, intendedUse string) ([]models.SimilarProduct, error)
}

type ProductSearchService struct {
	fda       *OpenFDAClient
	suggester ProductSuggester
	cache     SearchCache
	cacheTTL  time.Duration
	limit     int
}

func NewProductSearchService(fda *OpenFDAClient, suggester ProductSuggester, cache SearchCache, cfg *config.Config) *ProductSearchService {
	limit := cfg.Search.ResultLimit
	if limit <= 0 {
		limit = 20
	}
	return &ProductSearchService{
		fda:       fda,
		suggester: suggester,
		cache:     cache,
		cacheTTL:  cfg.Redis.SearchTTL,
		limit:     limit,
	}
}

// Search looks up similar products. Provider failures degrade to the last good
// result for the same query, then to a built-in list.
func (s *ProductSearchService) Search(ctx context.Context, q ProductSearchQuery) (*models.ProductSearchResult, error) {
	key := searchCacheKey(q.Query, q.SearchType)

	records, _, err := s.fda.Classify(ctx, q.Query, q.SearchType, s.limit, 0)
	if err != nil {
		logrus.WithError(err).WithField("query", q.Query).Warn("Product search failed, using fallback")
		return s.fallback(ctx, key, q), nil
	}

	result := &models.ProductSearchResult{
		FDAProducts: make([]models.SimilarProduct, 0, len(records)),
		AIProducts:  []models.SimilarProduct{},
	}
	for _, r := range records {
		result.FDAProducts = append(result.FDAProducts, r.toSimilarProduct())
	}

	if len(result.FDAProducts) == 0 && q.SearchType == models.SearchTypeKeywords && s.suggester != nil {
		deviceName := q.DeviceName
		if deviceName == "" {
			deviceName = q.Query
		}
		suggestions, err := s.suggester.Suggest(ctx, deviceName, q.IntendedUse)
		if err != nil {
			logrus.WithError(err).WithField("device_name", deviceName).Warn("AI product suggestions failed")
		} else {
			result.AIProducts = suggestions
		}
	}

	if !result.Empty() && s.cache != nil {
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
			logrus.WithError(err).Warn("Failed to cache product search")
		}
	}

	return result, nil
}

func (s *ProductSearchService) fallback(ctx context.Context, key string, q ProductSearchQuery) *models.ProductSearchResult {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logrus.WithError(err).Warn("Failed to read product search cache")
		}
		if ok {
			cached.Degraded = true
			markSource(cached.FDAProducts, models.ProductSourceCache)
			return cached
		}
	}

	return &models.ProductSearchResult{
		FDAProducts: mockProducts(q),
		AIProducts:  []models.SimilarProduct{},
		Degraded:    true,
	}
}

func markSource(products []models.SimilarProduct, source models.ProductSource) {
	for i := range products {
		products[i].Source = source
	}
}

var builtinProducts = []models.SimilarProduct{
	{
		ProductCode:           "FMF",
		Device:                "Syringe, Piston",
		RegulationDescription: "Piston syringe",
		MedicalSpecialty:      "General Hospital",
		DeviceClass:           "2",
		RegulationNumber:      "880.5860",
	},
	{
		ProductCode:           "FRN",
		Device:                "Pump, Infusion",
		RegulationDescription: "Infusion pump",
		MedicalSpecialty:      "General Hospital",
		DeviceClass:           "2",
		RegulationNumber:      "880.5725",
	},
	{
		ProductCode:           "FMI",
		Device:                "Needle, Hypodermic, Single Lumen",
		RegulationDescription: "Hypodermic single lumen needle",
		MedicalSpecialty:      "General Hospital",
		DeviceClass:           "2",
		RegulationNumber:      "880.5570",
	},
	{
		ProductCode:           "DXN",
		Device:                "System, Measurement, Blood-Pressure, Non-Invasive",
		RegulationDescription: "Noninvasive blood pressure measurement system",
		MedicalSpecialty:      "Cardiovascular",
		DeviceClass:           "2",
		RegulationNumber:      "870.1130",
	},
	{
		ProductCode:           "FLL",
		Device:                "Thermometer, Electronic, Clinical",
		RegulationDescription: "Clinical electronic thermometer",
		MedicalSpecialty:      "General Hospital",
		DeviceClass:           "2",
		RegulationNumber:      "880.2910",
	},
}

func mockProducts(q ProductSearchQuery) []models.SimilarProduct {
	products := make([]models.SimilarProduct, 0, len(builtinProducts))
	for _, p := range builtinProducts {
		p.ID = "mock-" + p.ProductCode
		p.Source = models.ProductSourceMock
		p.FDAClassificationLink = fdaClassificationLink + p.ProductCode
		products = append(products, p)
	}

	if q.SearchType == models.SearchTypeProductCode {
		code := strings.ToUpper(strings.TrimSpace(q.Query))
		for _, p := range products {
			if p.ProductCode == code {
				return []models.SimilarProduct{p}
			}
		}
	}
	return products
}

// OpenAISuggester asks a chat model for predicate devices.
type OpenAISuggester struct {
	client *openai.Client
	model  string
}

type aiSuggestionPayload struct {
	Products []struct {
		ProductCode           string  `json:"productCode"`
		Device                string  `json:"device"`
		RegulationDescription string  `json:"regulationDescription"`
		MedicalSpecialty      string  `json:"medicalSpecialty"`
		Reason                string  `json:"reason"`
		Confidence            float64 `json:"confidence"`
	} `json:"products"`
}

const suggestionPrompt = `You are an FDA regulatory specialist. Suggest up to 5 existing FDA-classified medical device types similar to the device below.
Respond with JSON only, in the form {"products":[{"productCode":"ABC","device":"...","regulationDescription":"...","medicalSpecialty":"...","reason":"...","confidence":0.0}]}.
Product codes are exactly 3 uppercase letters. Confidence is between 0 and 1.`

// NewOpenAISuggester returns nil when no API key is configured.
func NewOpenAISuggester(cfg *config.Config) *OpenAISuggester {
	if cfg.OpenAI.APIKey == "" {
		return nil
	}
	return &OpenAISuggester{
		client: openai.NewClient(cfg.OpenAI.APIKey),
		model:  cfg.OpenAI.Model,
	}
}

func (s *OpenAISuggester) Suggest(ctx context.Context, deviceName, intendedUse string) ([]models.SimilarProduct, error) {
	prompt := fmt.Sprintf("Device name: %s", deviceName)
	if strings.TrimSpace(intendedUse) != "" {
		prompt += fmt.Sprintf("\nIntended use: %s", intendedUse)
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: suggestionPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		MaxTokens:      1200,
		Temperature:    0.2,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	return parseSuggestions(resp.Choices[0].Message.Content)
}

// parseSuggestions keeps only entries with a well-formed product code.
func parseSuggestions(content string) ([]models.SimilarProduct, error) {
	var payload aiSuggestionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}

	products := make([]models.SimilarProduct, 0, len(payload.Products))
	seen := make(map[string]bool)
	for _, p := range payload.Products {
		code := strings.ToUpper(strings.TrimSpace(p.ProductCode))
		if !utils.IsProductCode(code) || seen[code] {
			continue
		}
		seen[code] = true

		suffix, err := utils.GenerateRandomString(8)
		if err != nil {
			return nil, err
		}
		confidence := p.Confidence
		if confidence < 0 {
			confidence = 0
		} else if confidence > 1 {
			confidence = 1
		}

		products = append(products, models.SimilarProduct{
			ID:                    "ai-" + suffix,
			ProductCode:           code,
			Device:                p.Device,
			RegulationDescription: p.RegulationDescription,
			MedicalSpecialty:      p.MedicalSpecialty,
			FDAClassificationLink: fdaClassificationLink + code,
			Source:                models.ProductSourceAI,
			Reason:                p.Reason,
			Confidence:            confidence,
		})
	}
	return products, nil
}
