package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Email    string `json:"email" validate:"required,email"`
	Quantity int    `json:"quantity" validate:"gte=1"`
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(samplePayload{Email: "nope", Quantity: 0})
	require.Error(t, err)

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, CodeValidation, appErr.Code)
	details, ok := appErr.Details.(map[string]any)
	require.True(t, ok)
	fields := details["fields"].(map[string]string)
	require.Equal(t, "must be a valid email", fields["email"])
	require.Equal(t, "must be at least 1", fields["quantity"])
}

func TestValidateStructAcceptsValidPayload(t *testing.T) {
	require.NoError(t, ValidateStruct(samplePayload{Email: "a@b.co", Quantity: 3}))
}
