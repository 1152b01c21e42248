package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChatRequest struct {
	Model       string   `validate:"required"`
	Messages    []string `validate:"required,min=1"`
	Temperature *float64 `validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `validate:"omitempty,gt=0"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct passes", func(t *testing.T) {
		temp := 0.7
		req := testChatRequest{
			Model:       "llama-3.3-70b",
			Messages:    []string{"hello"},
			Temperature: &temp,
		}

		assert.NoError(t, ValidateStruct(req))
	})

	t.Run("missing required fields", func(t *testing.T) {
		err := ValidateStruct(testChatRequest{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Contains(t, fields, "Model")
		assert.Contains(t, fields, "Messages")
		assert.Equal(t, "Model is required", fields["Model"])
	})

	t.Run("empty messages slice", func(t *testing.T) {
		err := ValidateStruct(testChatRequest{Model: "m", Messages: []string{}})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields["Messages"], "at least 1")
	})

	t.Run("temperature out of range", func(t *testing.T) {
		temp := 3.5
		err := ValidateStruct(testChatRequest{
			Model:       "m",
			Messages:    []string{"hello"},
			Temperature: &temp,
		})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields["Temperature"], "less than or equal to 2")
	})

	t.Run("zero max tokens", func(t *testing.T) {
		zero := 0
		err := ValidateStruct(testChatRequest{
			Model:     "m",
			Messages:  []string{"hello"},
			MaxTokens: &zero,
		})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields["MaxTokens"], "greater than 0")
	})
}

func TestIsValidationError(t *testing.T) {
	assert.False(t, IsValidationError(errors.New("plain error")))
	assert.False(t, IsValidationError(nil))

	err := ValidateStruct(testChatRequest{})
	assert.True(t, IsValidationError(err))
}

func TestGetValidationFields_NonValidationError(t *testing.T) {
	assert.Nil(t, GetValidationFields(errors.New("plain error")))
}
