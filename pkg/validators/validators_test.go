package validators_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
	"github.com/plaenen/fnsourcing/pkg/validators"
)

func TestToUserFriendlyName(t *testing.T) {
	assert.Equal(t, "First Name", validators.ToUserFriendlyName("first_name"))
	assert.Equal(t, "Email", validators.ToUserFriendlyName("email"))
	assert.Equal(t, "", validators.ToUserFriendlyName(""))
}

func TestValidateEmail(t *testing.T) {
	ok := validators.ValidateEmail("email", "a@example.org")
	assert.True(t, ok.IsValid)
	assert.Equal(t, validators.ValidationCodeSuccess, ok.ValidationCode)

	missing := validators.ValidateEmail("email", "")
	assert.False(t, missing.IsValid)
	assert.Equal(t, validators.ValidationCodeRequired, missing.ValidationCode)
	assert.Equal(t, "Email is required", missing.Message)

	invalid := validators.ValidateEmail("email", "not-an-email")
	assert.False(t, invalid.IsValid)
	assert.Equal(t, validators.ValidationCodeInvalid, invalid.ValidationCode)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@example.org", validators.NormalizeEmail("  A@Example.org "))
	assert.Equal(t, validators.NormalizeEmail("a@example.org"), validators.NormalizeEmail("A@EXAMPLE.ORG"))
}

func TestValidateStringLength(t *testing.T) {
	short := validators.ValidateStringLength("Al", "name", 3, 50)
	assert.False(t, short.IsValid)
	assert.Equal(t, "Name must be at least 3 characters long.", short.Message)
	assert.Equal(t, 3, short.Metadata["min_length"])

	assert.True(t, validators.ValidateStringLength("Alex", "name", 3, 50).IsValid)
	assert.True(t, validators.ValidateStringLength("Zoë", "name", 3, 0).IsValid, "runes, not bytes")
	assert.False(t, validators.ValidateStringLength("Alexander", "name", 3, 5).IsValid)
}

func TestValidateStringEmpty(t *testing.T) {
	assert.False(t, validators.ValidateStringEmpty("  ", "name").IsValid)
	assert.True(t, validators.ValidateStringEmpty("x", "name").IsValid)
}

func TestMaskString(t *testing.T) {
	assert.Equal(t, "****.org", validators.MaskString("a@ex.org"))
	assert.Equal(t, "************", validators.MaskString("abc"))
}

func TestValidationBuilder(t *testing.T) {
	b := validators.NewValidationBuilder().
		Add(validators.ValidateStringLength("Al", "name", 3, 50)).
		Add(validators.ValidateEmail("email", "a@example.org")).
		Add(validators.ValidateStringEmpty("Al", "name"))

	all := b.Build()
	require.Len(t, all, 2)
	assert.Equal(t, "name", all[0].FieldName)
	assert.Len(t, all[0].Validations, 2)
	assert.True(t, all.HasErrors())

	failed := b.BuildErrors()
	require.Len(t, failed, 1)
	assert.Len(t, failed.GetFieldValidations("name").Validations, 1)
	assert.Empty(t, failed.GetFieldValidations("email").Validations)

	err := b.Err()
	require.ErrorIs(t, err, validators.ErrValidation)

	var verr *validators.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "Name must be at least 3 characters long.")

	assert.NoError(t, validators.NewValidationBuilder().Add(validators.ValidateEmail("email", "a@example.org")).Err())
}

func TestValidationErrorIsInvalidCommand(t *testing.T) {
	err := validators.NewValidationBuilder().Add(validators.ValidateStringEmpty("", "name")).Err()
	assert.ErrorIs(t, err, es.ErrInvalidCommand)
}
