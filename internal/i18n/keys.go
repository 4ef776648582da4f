// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired       = "auth.required"
	KeyAuthInvalidToken   = "auth.invalid_token"
	KeyAuthTokenExpired   = "auth.token_expired"
	KeyAuthSessionExpired = "auth.session_expired"

	// Workflow conversation
	KeyWorkflowAskDeviceName       = "workflow.ask_device_name"
	KeyWorkflowAskProductCode      = "workflow.ask_product_code"
	KeyWorkflowAskProductCodeInput = "workflow.ask_product_code_input"
	KeyWorkflowAskIntendedUse      = "workflow.ask_intended_use"
	KeyWorkflowAskIntendedUseInput = "workflow.ask_intended_use_input"
	KeyWorkflowSearching           = "workflow.searching"
	KeyWorkflowProductsFound       = "workflow.products_found"
	KeyWorkflowProductsDegraded    = "workflow.products_degraded"
	KeyWorkflowNoProducts          = "workflow.no_products"
	KeyWorkflowSelectionSummary    = "workflow.selection_summary"
	KeyWorkflowGenerating          = "workflow.generating"
	KeyWorkflowCompleted           = "workflow.completed"
	KeyWorkflowFailed              = "workflow.failed"
	KeyWorkflowAnswerYes           = "workflow.answer_yes"
	KeyWorkflowAnswerNo            = "workflow.answer_no"
	KeyWorkflowInvalidStep         = "workflow.invalid_step"
	KeyWorkflowNotFound            = "workflow.not_found"

	// Workflow validation
	KeyValidationDeviceName     = "validation.device_name_required"
	KeyValidationIntendedUse    = "validation.intended_use_required"
	KeyValidationProductCode    = "validation.product_code"
	KeyValidationSelectProducts = "validation.select_products"
	KeyValidationQuery          = "validation.query_required"
	KeyValidationInvalid        = "validation.invalid"

	// Payments
	KeyPaymentRequired         = "payment.required"
	KeyPaymentFailed           = "payment.failed"
	KeyPaymentConfirmationSlow = "payment.confirmation_slow"
	KeyPaymentCanceled         = "payment.canceled"
	KeyPaymentSucceeded        = "payment.succeeded"
	KeyPaymentOrderUsed        = "payment.order_used"

	// Search
	KeySearchRateLimited = "search.rate_limited"

	// Reports
	KeyReportStoreFailed = "report.store_failed"
)
