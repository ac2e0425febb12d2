package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultToleranceConfig(t *testing.T) {
	cfg := DefaultToleranceConfig()
	assert.Equal(t, 5.0, cfg.ValidationPercent)
	assert.Equal(t, 0.01, cfg.PriceEditAbsolute)
}

func TestValidateToleranceConfig(t *testing.T) {
	require.NoError(t, validateToleranceConfig(DefaultToleranceConfig()))
	assert.Error(t, validateToleranceConfig(ToleranceConfig{ValidationPercent: -1}))
	assert.Error(t, validateToleranceConfig(ToleranceConfig{PriceEditAbsolute: -0.5}))
}

func TestStaticToleranceHolder(t *testing.T) {
	holder := NewStaticToleranceHolder(ToleranceConfig{
		ValidationPercent: 2.5,
		PriceEditAbsolute: 0.05,
	})
	got := holder.Get()
	assert.Equal(t, 2.5, got.ValidationPercent)
	assert.Equal(t, 0.05, got.PriceEditAbsolute)
}
