package identity

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/goliatone/go-identity/middleware/jwtware"
)

// ErrorResponse is the JSON body of every failed request. Error holds the
// text code.
type ErrorResponse struct {
	Error            string            `json:"error"`
	Message          string            `json:"message,omitempty"`
	ActivationStatus string            `json:"activationStatus,omitempty"`
	Email            string            `json:"email,omitempty"`
	Fields           map[string]string `json:"fields,omitempty"`
}

// NewErrorHandler returns a fiber error handler that renders taxonomy errors
// with their HTTP status and text code. Errors without a text code are
// reported as INTERNAL_ERROR without their message.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = NamedLogger("identity.http")
	}
	return func(c *fiber.Ctx, err error) error {
		return renderError(c, logger, err)
	}
}

func renderError(c *fiber.Ctx, logger Logger, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Error:   goerrors.HTTPStatusToTextCode(fiberErr.Code),
			Message: fiberErr.Message,
		})
	}

	richErr := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	status := HTTPStatus(richErr)

	if status >= fiber.StatusInternalServerError {
		logger.Error("request failed",
			"error", err,
			"text_code", richErr.TextCode,
			"path", c.Path(),
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else {
		logger.Debug("request rejected",
			"text_code", richErr.TextCode,
			"path", c.Path(),
		)
	}

	body := ErrorResponse{
		Error:   richErr.TextCode,
		Message: richErr.Message,
	}
	if body.Error == "" {
		body.Error = "INTERNAL_ERROR"
		body.Message = "an unexpected error occurred"
	}

	switch richErr.TextCode {
	case TextCodeAccountNotActivated:
		body.ActivationStatus, _ = richErr.Metadata["activationStatus"].(string)
		body.Email, _ = richErr.Metadata["email"].(string)
	case TextCodeValidation:
		body.Fields = validationFields(richErr)
	case TextCodeRegistrationFailed, TextCodeExternalAuthorityFailure:
		body.Message = ErrorMessageFor(richErr.TextCode)
	}

	return c.Status(status).JSON(body)
}

func validationFields(richErr *goerrors.Error) map[string]string {
	if m := richErr.ValidationMap(); len(m) > 0 {
		return m
	}
	if field, ok := richErr.Metadata["field"].(string); ok {
		reason, _ := richErr.Metadata["reason"].(string)
		return map[string]string{field: reason}
	}
	if fields, ok := richErr.Metadata["fields"].(string); ok {
		return map[string]string{"_": fields}
	}
	return nil
}

// ErrorMessageFor returns the client facing message of errors whose internal
// message carries operator detail.
func ErrorMessageFor(textCode string) string {
	switch textCode {
	case TextCodeRegistrationFailed:
		return "registration could not be completed, please contact support"
	case TextCodeExternalAuthorityFailure:
		return "the identity provider is unavailable, please try again later"
	default:
		return ""
	}
}

// bearerError maps middleware failures onto the taxonomy.
func bearerError(err error) error {
	switch {
	case errors.Is(err, jwtware.ErrJWTMissingOrMalformed):
		return ErrInvalidToken
	case errors.Is(err, jwtware.ErrRoleRequired):
		return ErrForbidden
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return ErrInvalidToken
}
