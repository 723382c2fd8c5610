package identity

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation                = "VALIDATION_ERROR"
	TextCodeAccountAlreadyExists      = "ACCOUNT_ALREADY_EXISTS"
	TextCodeDuplicateLicense          = "DUPLICATE_LICENSE"
	TextCodeAccountNotFound           = "ACCOUNT_NOT_FOUND"
	TextCodeInvalidCredentials        = "INVALID_CREDENTIALS"
	TextCodeAccountNotActivated       = "ACCOUNT_NOT_ACTIVATED"
	TextCodeInvalidToken              = "INVALID_TOKEN"
	TextCodeInvalidPassword           = "INVALID_PASSWORD"
	TextCodePasswordUnchanged         = "PASSWORD_UNCHANGED"
	TextCodeExternalAuthorityFailure  = "EXTERNAL_AUTHORITY_FAILURE"
	TextCodeRegistrationFailed        = "REGISTRATION_FAILED"
	TextCodeTooManyAttempts           = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeForbidden                 = "FORBIDDEN"
	TextCodeNotProfessional           = "NOT_PROFESSIONAL"
	TextCodeInvalidTransition         = "INVALID_ACTIVATION_TRANSITION"
	TextCodeTerminalState             = "TERMINAL_ACTIVATION_STATE"
	TextCodeRemoteIdentityNotFound    = "REMOTE_IDENTITY_NOT_FOUND"
	TextCodeRemoteCredentialsRejected = "REMOTE_CREDENTIALS_REJECTED"
	TextCodeEmptyPassword             = "EMPTY_PASSWORD"
	TextCodeMalformedToken            = "MALFORMED_TOKEN"
)

// ErrValidation is returned for malformed or missing input.
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrAccountAlreadyExists is returned when the email is taken, locally or remotely.
var ErrAccountAlreadyExists = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeAccountAlreadyExists).
	WithCode(goerrors.CodeConflict)

// ErrDuplicateLicense is returned when a professional license number is taken.
var ErrDuplicateLicense = goerrors.New("license number is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateLicense).
	WithCode(goerrors.CodeConflict)

// ErrAccountNotFound is only surfaced to authenticated admin callers.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidCredentials covers both a wrong password and an unknown email.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountNotActivated is returned for accounts awaiting (or refused) approval.
var ErrAccountNotActivated = goerrors.New("account is awaiting administrator approval", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountNotActivated).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidToken covers unknown, expired and revoked refresh tokens.
var ErrInvalidToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when an access token cannot be parsed or verified.
var ErrTokenMalformed = goerrors.New("access token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeMalformedToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidPassword is returned when the current password does not match.
var ErrInvalidPassword = goerrors.New("current password is incorrect", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrPasswordUnchanged is returned when the new password equals the old one.
var ErrPasswordUnchanged = goerrors.New("new password must differ from the current one", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordUnchanged).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrPasswordHashCost is returned for a bcrypt cost outside its range.
var ErrPasswordHashCost = goerrors.New("invalid password hash cost", goerrors.CategoryInternal).
	WithCode(goerrors.CodeInternal)

// ErrExternalAuthorityFailure wraps any failure of the external authority.
var ErrExternalAuthorityFailure = goerrors.New("external identity authority failure", goerrors.CategoryOperation).
	WithTextCode(TextCodeExternalAuthorityFailure).
	WithCode(http.StatusBadGateway)

// ErrRegistrationFailed carries the furthest completed saga step in its metadata.
var ErrRegistrationFailed = goerrors.New("registration could not be completed", goerrors.CategoryInternal).
	WithTextCode(TextCodeRegistrationFailed).
	WithCode(goerrors.CodeInternal)

// ErrTooManyLoginAttempts is returned while an account cools down.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(http.StatusTooManyRequests)

// ErrForbidden is returned when the principal lacks the required role.
var ErrForbidden = goerrors.New("operation not permitted", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrNotProfessional is returned when an activation targets a non professional account.
var ErrNotProfessional = goerrors.New("account is not a professional account", goerrors.CategoryValidation).
	WithTextCode(TextCodeNotProfessional).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when a requested activation change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid activation state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when moving away from REJECTED.
var ErrTerminalState = goerrors.New("activation state is terminal", goerrors.CategoryConflict).
	WithTextCode(TextCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// ErrRemoteIdentityNotFound is returned by authority adapters for unknown identities.
var ErrRemoteIdentityNotFound = goerrors.New("remote identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRemoteIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrRemoteCredentialsRejected is returned by authority adapters when a
// password grant is refused.
var ErrRemoteCredentialsRejected = goerrors.New("remote authority rejected the credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeRemoteCredentialsRejected).
	WithCode(goerrors.CodeUnauthorized)

func IsValidationError(err error) bool         { return HasTextCode(err, TextCodeValidation) }
func IsAccountAlreadyExists(err error) bool    { return HasTextCode(err, TextCodeAccountAlreadyExists) }
func IsDuplicateLicense(err error) bool        { return HasTextCode(err, TextCodeDuplicateLicense) }
func IsAccountNotFound(err error) bool         { return HasTextCode(err, TextCodeAccountNotFound) }
func IsInvalidCredentials(err error) bool      { return HasTextCode(err, TextCodeInvalidCredentials) }
func IsAccountNotActivated(err error) bool     { return HasTextCode(err, TextCodeAccountNotActivated) }
func IsInvalidToken(err error) bool            { return HasTextCode(err, TextCodeInvalidToken) }
func IsInvalidPassword(err error) bool         { return HasTextCode(err, TextCodeInvalidPassword) }
func IsPasswordUnchanged(err error) bool       { return HasTextCode(err, TextCodePasswordUnchanged) }
func IsExternalAuthorityFailure(err error) bool { return HasTextCode(err, TextCodeExternalAuthorityFailure) }
func IsRegistrationFailed(err error) bool      { return HasTextCode(err, TextCodeRegistrationFailed) }
func IsRemoteIdentityNotFound(err error) bool  { return HasTextCode(err, TextCodeRemoteIdentityNotFound) }
func IsRemoteCredentialsRejected(err error) bool {
	return HasTextCode(err, TextCodeRemoteCredentialsRejected)
}

// HasTextCode walks the chain of rich errors looking for code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = richErr.Source
	}
	return false
}

// RegistrationFailedStep returns the furthest completed step recorded on a
// RegistrationFailed error.
func RegistrationFailedStep(err error) (RegistrationStep, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != TextCodeRegistrationFailed {
		return "", false
	}
	step, ok := richErr.Metadata["step"].(string)
	return RegistrationStep(step), ok
}

func validationError(err error) *goerrors.Error {
	clone := ErrValidation.Clone()
	clone.Source = err

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		for field, fieldErr := range fieldErrs {
			clone.ValidationErrors = append(clone.ValidationErrors, goerrors.FieldError{
				Field:   field,
				Message: strings.TrimSpace(fieldErr.Error()),
			})
		}
		sort.Slice(clone.ValidationErrors, func(i, j int) bool {
			return clone.ValidationErrors[i].Field < clone.ValidationErrors[j].Field
		})
		return clone
	}

	return clone.WithMetadata(map[string]any{
		"fields": err.Error(),
	})
}

func validationMessage(field, message string) *goerrors.Error {
	return ErrValidation.Clone().WithMetadata(map[string]any{
		"field":  field,
		"reason": message,
	})
}

func registrationFailed(step RegistrationStep, accountID string, cause error) *goerrors.Error {
	clone := ErrRegistrationFailed.Clone()
	clone.Source = cause
	return clone.WithMetadata(map[string]any{
		"step":       string(step),
		"account_id": accountID,
	})
}

func authorityFailure(step, remoteID string, cause error) *goerrors.Error {
	clone := ErrExternalAuthorityFailure.Clone()
	clone.Source = cause
	meta := map[string]any{"step": step}
	if remoteID != "" {
		meta["remote_id"] = remoteID
	}
	if cause != nil {
		meta["cause"] = cause.Error()
	}
	return clone.WithMetadata(meta)
}

func notActivated(status ActivationStatus, email string) *goerrors.Error {
	return ErrAccountNotActivated.Clone().WithMetadata(map[string]any{
		"activationStatus": string(status),
		"email":            email,
	})
}

var (
	errMissingAuthority = goerrors.New("external authority is not configured", goerrors.CategoryInternal)
	errRemoteNotLinked  = goerrors.New("remote identity is not linked to the account", goerrors.CategoryInternal)
)

// missingRemoteCause names why an external credential cannot reach the
// authority: no client configured, or no remote identity recorded yet.
func missingRemoteCause(hasAuthority bool) error {
	if hasAuthority {
		return errRemoteNotLinked
	}
	return errMissingAuthority
}

// HTTPStatus returns the HTTP status carried by err, 500 when it has none.
func HTTPStatus(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}
