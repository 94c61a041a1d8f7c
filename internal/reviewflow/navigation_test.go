package reviewflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewNavigationSignerRequiresSecret(testingT *testing.T) {
	_, err := NewNavigationSigner("  ", time.Hour)
	require.ErrorIs(testingT, err, errMissingNavigationSecret)

	signer, err := NewNavigationSigner("secret", 0)
	require.NoError(testingT, err)
	require.Equal(testingT, defaultNavigationTTL, signer.ttl)
}

func TestNavigationRoundTrip(testingT *testing.T) {
	signer, err := NewNavigationSigner("secret", time.Hour)
	require.NoError(testingT, err)

	issued, err := signer.Issue(" bistro ", 4, "review-1")
	require.NoError(testingT, err)
	require.Equal(testingT, ScreenGamification, issued.Screen)
	require.Equal(testingT, "bistro", issued.CompanyID)

	verified, err := signer.Verify(issued.Token)
	require.NoError(testingT, err)
	require.Equal(testingT, issued, verified)
}

func TestNavigationIssueRequiresEveryValue(testingT *testing.T) {
	signer, err := NewNavigationSigner("secret", time.Hour)
	require.NoError(testingT, err)

	testCases := []struct {
		companyID     string
		rating        int
		reviewID      string
		expectedField string
	}{
		{companyID: "", rating: 5, reviewID: "review-1", expectedField: fieldCompanyID},
		{companyID: "bistro", rating: 0, reviewID: "review-1", expectedField: fieldRating},
		{companyID: "bistro", rating: 5, reviewID: " ", expectedField: fieldReviewID},
	}
	for _, testCase := range testCases {
		_, issueErr := signer.Issue(testCase.companyID, testCase.rating, testCase.reviewID)
		var missingContextError *MissingContextError
		require.ErrorAs(testingT, issueErr, &missingContextError)
		require.Equal(testingT, testCase.expectedField, missingContextError.Field)
	}
}

func TestNavigationVerifyRejectsForeignAndExpiredTokens(testingT *testing.T) {
	signer, err := NewNavigationSigner("secret", time.Minute)
	require.NoError(testingT, err)
	otherSigner, err := NewNavigationSigner("other-secret", time.Minute)
	require.NoError(testingT, err)

	foreign, err := otherSigner.Issue("bistro", 5, "review-1")
	require.NoError(testingT, err)
	_, err = signer.Verify(foreign.Token)
	var missingContextError *MissingContextError
	require.ErrorAs(testingT, err, &missingContextError)
	require.Equal(testingT, fieldNavigationToken, missingContextError.Field)

	issued, err := signer.Issue("bistro", 5, "review-1")
	require.NoError(testingT, err)
	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = signer.Verify(issued.Token)
	require.ErrorAs(testingT, err, &missingContextError)
}
