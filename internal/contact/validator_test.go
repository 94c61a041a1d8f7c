package contact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name           string
		email          string
		phone          string
		expectedReason error
	}{
		{name: "both empty", email: "", phone: "", expectedReason: ErrContactRequired},
		{name: "whitespace only", email: "  ", phone: " ", expectedReason: ErrContactRequired},
		{name: "malformed email", email: "bad-email", phone: "", expectedReason: ErrInvalidEmail},
		{name: "email without tld", email: "a@b", phone: "", expectedReason: ErrInvalidEmail},
		{name: "email longer than storable", email: strings.Repeat("a", MaxEmailLength-5) + "@b.com", phone: "", expectedReason: ErrInvalidEmail},
		{name: "longest storable email", email: strings.Repeat("a", MaxEmailLength-6) + "@b.com", phone: ""},
		{name: "short phone", email: "", phone: "123", expectedReason: ErrInvalidPhone},
		{name: "phone with letters", email: "", phone: "0800-CALL-NOW", expectedReason: ErrInvalidPhone},
		{name: "long phone", email: "", phone: "+1234567890123456", expectedReason: ErrInvalidPhone},
		{name: "valid email and bad phone", email: "a@b.com", phone: "12", expectedReason: ErrInvalidPhone},
		{name: "valid both", email: "a@b.com", phone: "+386 40 123 456"},
		{name: "email only", email: "visitor@example.org", phone: ""},
		{name: "phone only", email: "", phone: "(040) 123-456"},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(testingT *testing.T) {
			result := Validate(testCase.email, testCase.phone)
			if testCase.expectedReason == nil {
				require.True(testingT, result.OK)
				require.NoError(testingT, result.Reason)
				return
			}
			require.False(testingT, result.OK)
			require.ErrorIs(testingT, result.Reason, testCase.expectedReason)
		})
	}
}

func TestValidateWithOptionalRequirement(t *testing.T) {
	require.True(t, ValidateWith(ContactOptional, "", "").OK)

	result := ValidateWith(ContactOptional, "nope", "")
	require.False(t, result.OK)
	require.ErrorIs(t, result.Reason, ErrInvalidEmail)
}
