// internal/handlers/search.go
package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/pha-gateway/internal/i18n"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/services"
	"github.com/javajoker/pha-gateway/internal/utils"
)

type SearchHandler struct {
	literature *services.LiteratureService
	products   *services.ProductSearchService
}

func NewSearchHandler(literature *services.LiteratureService, products *services.ProductSearchService) *SearchHandler {
	return &SearchHandler{
		literature: literature,
		products:   products,
	}
}

// Literature returns a handler proxying one upstream source, e.g. GET /search/openalex?q=...
func (h *SearchHandler) Literature(source models.LiteratureSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q models.LiteratureQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			utils.BadRequestResponse(c, "", err.Error())
			return
		}

		results, err := h.literature.Search(requestContext(c), source, q)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		utils.SuccessResponse(c, results)
	}
}

// GET /search/products?q=...&type=keywords|product-code
func (h *SearchHandler) Products(c *gin.Context) {
	searchType := models.SearchType(c.DefaultQuery("type", string(models.SearchTypeKeywords)))
	if searchType != models.SearchTypeKeywords && searchType != models.SearchTypeProductCode {
		utils.BadRequestResponse(c, "", gin.H{"type": "must be keywords or product-code"})
		return
	}

	q := services.ProductSearchQuery{
		Query:       strings.TrimSpace(c.Query("q")),
		SearchType:  searchType,
		DeviceName:  c.Query("device_name"),
		IntendedUse: c.Query("intended_use"),
	}
	if q.Query == "" {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationQuery), nil)
		return
	}

	result, err := h.products.Search(requestContext(c), q)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, result)
}
