package auth

import (
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// password bounds; bcrypt ignores input past 72 bytes
const (
	MinPasswordLength = 6
	MaxPasswordLength = 72
)

var passwordRules = []validation.Rule{
	validation.Required,
	validation.Length(MinPasswordLength, MaxPasswordLength),
}

var emailRules = []validation.Rule{
	validation.Required,
	validation.Length(3, 254),
	is.Email,
}

// validationError turns ozzo field errors into a 422 rich error
func validationError(err error, message string) error {
	if err == nil {
		return nil
	}

	fields := map[string]string{}

	var fieldErrs validation.Errors
	if goerrors.As(err, &fieldErrs) {
		for field, fieldErr := range fieldErrs {
			if fieldErr != nil {
				fields[field] = fieldErr.Error()
			}
		}
	} else {
		fields["payload"] = err.Error()
	}

	return goerrors.NewValidationFromMap(message, fields).
		WithCode(http.StatusUnprocessableEntity)
}

// ValidatePassword checks a plaintext password against the length bounds
func ValidatePassword(password string) error {
	return validationError(
		validation.Errors{"password": validation.Validate(password, passwordRules...)}.Filter(),
		"invalid password",
	)
}
