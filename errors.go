package auth

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	TextCodeEmailNotConfirmed        = "EMAIL_NOT_CONFIRMED"
	TextCodeUnauthorized             = "UNAUTHORIZED"
	TextCodeForbidden                = "FORBIDDEN"
	TextCodeInvalidVerificationToken = "INVALID_VERIFICATION_TOKEN"
	TextCodeInvalidResetToken        = "INVALID_RESET_TOKEN"
	TextCodeVerificationFailed       = "VERIFICATION_ERROR"
	TextCodeTokenExpired             = "TOKEN_EXPIRED"
	TextCodeTokenMalformed           = "TOKEN_MALFORMED"
	TextCodeDeliveryFailed           = "EMAIL_DELIVERY_FAILED"
	TextCodeIdentityConflict         = "IDENTITY_CONFLICT"
	TextCodeIdentityNotFound         = "IDENTITY_NOT_FOUND"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords alike
var ErrInvalidCredentials = goerrors.New("invalid username or password", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCredentials)

// ErrEmailNotConfirmed blocks login until the email has been verified
var ErrEmailNotConfirmed = goerrors.New("email not confirmed", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeEmailNotConfirmed)

// ErrUnauthorized is returned when a bearer token cannot be resolved to an identity
var ErrUnauthorized = goerrors.New("could not validate credentials", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeUnauthorized)

// ErrForbidden is returned when the identity lacks the required role
var ErrForbidden = goerrors.New("operation not permitted", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeForbidden)

// ErrInvalidVerificationToken wrong, expired or malformed email token
var ErrInvalidVerificationToken = goerrors.New("wrong token for email confirmation", goerrors.CategoryValidation).
	WithCode(http.StatusUnprocessableEntity).
	WithTextCode(TextCodeInvalidVerificationToken)

// ErrVerificationFailed a valid verification token names an identity that
// no longer exists
var ErrVerificationFailed = goerrors.New("verification error", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeVerificationFailed)

// ErrInvalidResetToken wrong, expired or malformed password reset token
var ErrInvalidResetToken = goerrors.New("invalid or expired password reset token", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeInvalidResetToken)

// ErrTokenExpired the token exp claim is in the past
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrTokenMalformed the token failed signature or structure checks
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenMalformed)

// ErrDelivery an account notification could not be sent
var ErrDelivery = goerrors.New("failed to send email, please try again later", goerrors.CategoryOperation).
	WithCode(http.StatusBadGateway).
	WithTextCode(TextCodeDeliveryFailed)

// ErrIdentityConflict username or email already registered
var ErrIdentityConflict = goerrors.New("user with this username or email already exists", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeIdentityConflict)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeIdentityNotFound)

// ErrNoEmptyString password must not be empty
var ErrNoEmptyString = errors.New("empty string not allowed")

// ErrMismatchedHashAndPassword the password does not match the stored hash
var ErrMismatchedHashAndPassword = errors.New("password does not match")

// HTTPStatus maps an error to the fixed external status the calling layer
// should answer with. Unknown errors map to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	if richErr.Code != 0 {
		return richErr.Code
	}

	switch richErr.Category {
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// TextCode returns the text code of a rich error or an empty string.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
