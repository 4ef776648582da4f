package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	require.NoError(t, Initialize())

	assert.Equal(t, "Selected products: FMF, DQA", T("en", KeyWorkflowSelectionSummary, "FMF, DQA"))
	assert.Equal(t, "已選擇產品：FMF", T("zh_TW", KeyWorkflowSelectionSummary, "FMF"))
}

func TestFallbacks(t *testing.T) {
	assert.Equal(t, T("en", KeyPaymentRequired), T("fr", KeyPaymentRequired))
	assert.Equal(t, "missing.key", T("en", "missing.key"))
	assert.ElementsMatch(t, []string{"en", "zh_TW"}, GetSupportedLanguages())
}
