package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	BaseURL  string `json:"base_url" validate:"required,url"`
	Interval int    `json:"interval" validate:"gte=1"`
	Format   string `validate:"omitempty,oneof=wav mp3 flac"`
}

func TestValidateStructUsesJSONNames(t *testing.T) {
	errs := ValidateStruct(&sample{Interval: 0, Format: "ogg"})

	assert.Equal(t, "The field 'base_url' is required.", errs["base_url"])
	assert.Equal(t, "The field 'interval' must be greater than or equal to 1.", errs["interval"])
	assert.Equal(t, "The field 'Format' must be one of [wav mp3 flac].", errs["Format"])
}

func TestValidateStructByValue(t *testing.T) {
	errs := ValidateStruct(sample{BaseURL: "not a url", Interval: 1}, "zh")
	assert.Equal(t, "字段 'base_url' 必须是有效的 URL。", errs["base_url"])
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&sample{BaseURL: "http://msst:8000", Interval: 5, Format: "wav"}))

	err := Validate(&sample{BaseURL: "http://msst:8000"})
	assert.EqualError(t, err, "The field 'interval' must be greater than or equal to 1.")
}
