package reviewflow

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultNavigationTTL = 2 * time.Hour
	navigationIssuer     = "reviewfunnel"
)

var errMissingNavigationSecret = errors.New("missing_navigation_secret")

// Navigation carries the context the gamification screen needs. Token encodes the same values
// signed, so the screen can be opened from a link without losing them.
type Navigation struct {
	Screen    Screen `json:"screen"`
	CompanyID string `json:"company_id"`
	Rating    int    `json:"rating"`
	ReviewID  string `json:"review_id"`
	Token     string `json:"token"`
}

type navigationClaims struct {
	CompanyID string `json:"company_id"`
	Rating    int    `json:"rating"`
	ReviewID  string `json:"review_id"`
	jwt.RegisteredClaims
}

// NavigationSigner issues and verifies gamification navigation tokens.
type NavigationSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewNavigationSigner builds a signer using an HMAC secret.
func NewNavigationSigner(secret string, ttl time.Duration) (*NavigationSigner, error) {
	trimmedSecret := strings.TrimSpace(secret)
	if trimmedSecret == "" {
		return nil, errMissingNavigationSecret
	}
	if ttl <= 0 {
		ttl = defaultNavigationTTL
	}
	return &NavigationSigner{secret: []byte(trimmedSecret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a navigation to the gamification screen. All three values are required.
func (signer *NavigationSigner) Issue(companyID string, rating int, reviewID string) (Navigation, error) {
	navigation := Navigation{
		Screen:    ScreenGamification,
		CompanyID: strings.TrimSpace(companyID),
		Rating:    rating,
		ReviewID:  strings.TrimSpace(reviewID),
	}
	if err := checkNavigationContext(navigation); err != nil {
		return Navigation{}, err
	}

	issuedAt := signer.now()
	claims := navigationClaims{
		CompanyID: navigation.CompanyID,
		Rating:    navigation.Rating,
		ReviewID:  navigation.ReviewID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    navigationIssuer,
			Subject:   navigation.ReviewID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(signer.ttl)),
		},
	}
	token, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signer.secret)
	if signErr != nil {
		return Navigation{}, signErr
	}
	navigation.Token = token
	return navigation, nil
}

// Verify checks a token and returns the navigation it carries.
func (signer *NavigationSigner) Verify(token string) (Navigation, error) {
	trimmedToken := strings.TrimSpace(token)
	if trimmedToken == "" {
		return Navigation{}, &MissingContextError{Field: fieldNavigationToken}
	}

	var claims navigationClaims
	_, parseErr := jwt.ParseWithClaims(
		trimmedToken,
		&claims,
		func(*jwt.Token) (any, error) { return signer.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(navigationIssuer),
		jwt.WithTimeFunc(signer.now),
	)
	if parseErr != nil {
		return Navigation{}, &MissingContextError{Field: fieldNavigationToken, Err: parseErr}
	}

	navigation := Navigation{
		Screen:    ScreenGamification,
		CompanyID: strings.TrimSpace(claims.CompanyID),
		Rating:    claims.Rating,
		ReviewID:  strings.TrimSpace(claims.ReviewID),
		Token:     trimmedToken,
	}
	if err := checkNavigationContext(navigation); err != nil {
		return Navigation{}, err
	}
	return navigation, nil
}

func checkNavigationContext(navigation Navigation) error {
	switch {
	case navigation.CompanyID == "":
		return &MissingContextError{Field: fieldCompanyID}
	case navigation.ReviewID == "":
		return &MissingContextError{Field: fieldReviewID}
	case navigation.Rating == 0:
		return &MissingContextError{Field: fieldRating}
	}
	return nil
}
