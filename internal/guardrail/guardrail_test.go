package guardrail

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pc-deal-watch/internal/domain"
)

func thresholds() domain.Thresholds {
	th := domain.DefaultThresholds()
	th.DealPrice = decimal.NewFromInt(500)
	th.GoodPrice = decimal.NewFromInt(600)
	return th
}

func observation(price int64, cond domain.Condition, src domain.Source) domain.Observation {
	return domain.Observation{
		Key:       domain.ProductKey{Category: domain.CategoryGPU, Brand: "AMD", Model: "RX 9070"},
		Price:     decimal.NewFromInt(price),
		Condition: cond,
		Source:    src,
		URL:       "https://example.test/item",
	}
}

func TestAdmitRejectsGlitch(t *testing.T) {
	err := Admit(observation(240, domain.ConditionNew, domain.SourceTrovaprezzi), thresholds())

	var glitch *domain.RejectedGlitch
	require.True(t, errors.As(err, &glitch))
	assert.True(t, glitch.Floor.Equal(decimal.NewFromInt(250)))
}

func TestAdmitAcceptsPlausiblePrice(t *testing.T) {
	assert.NoError(t, Admit(observation(260, domain.ConditionNew, domain.SourceIdealo), thresholds()))
	assert.NoError(t, Admit(observation(250, domain.ConditionNew, domain.SourceIdealo), thresholds()), "floor itself is admitted")
}

func TestAdmitIgnoresUsedAndSecondhand(t *testing.T) {
	assert.NoError(t, Admit(observation(10, domain.ConditionUsed, domain.SourceSubitoImport), thresholds()))
	assert.NoError(t, Admit(observation(10, domain.ConditionNew, domain.SourceSubitoIMAP), thresholds()))
}

func TestAdmitHonoursRatio(t *testing.T) {
	th := thresholds()
	th.GlitchRatio = decimal.RequireFromString("0.8")

	assert.Error(t, Admit(observation(390, domain.ConditionNew, domain.SourceIdealo), th))
	assert.NoError(t, Admit(observation(400, domain.ConditionNew, domain.SourceIdealo), th))
}
