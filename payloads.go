package identity

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// RegisterPayload is the body of POST /auth/register.
type RegisterPayload struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

func (p RegisterPayload) input() RegistrationInput {
	return RegistrationInput{
		Email:     p.Email,
		Password:  p.Password,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Phone:     p.Phone,
		Role:      RoleUser,
	}
}

// ProfessionalRegisterPayload is the body of POST /professional/register.
// Password is only read when professional passwords are verified locally.
type ProfessionalRegisterPayload struct {
	RegisterPayload
	LicenseNumber     string `json:"licenseNumber"`
	Specialization    string `json:"specialization"`
	Organization      string `json:"organization"`
	YearsOfExperience int    `json:"yearsOfExperience"`
}

func (p ProfessionalRegisterPayload) input() RegistrationInput {
	in := p.RegisterPayload.input()
	in.Role = RoleProfessional
	in.LicenseNumber = strings.TrimSpace(p.LicenseNumber)
	in.Profile = Profile{
		Specialization:    p.Specialization,
		Organization:      p.Organization,
		YearsOfExperience: p.YearsOfExperience,
	}
	return in
}

// LoginPayload is the body of the login routes.
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will validate the payload
func (p LoginPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

// RefreshPayload carries a refresh token in the body.
type RefreshPayload struct {
	RefreshToken string `json:"refreshToken"`
}

// Validate will validate the payload
func (p RefreshPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.RefreshToken, validation.Required),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

// ChangePasswordPayload is the body of the change-password routes.
type ChangePasswordPayload struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Validate will validate the payload. The confirmation is optional.
func (p ChangePasswordPayload) Validate() error {
	confirmRules := []validation.Rule{}
	if p.ConfirmPassword != "" {
		confirmRules = append(confirmRules, validation.By(ValidateStringEquals(p.NewPassword)))
	}
	err := validation.ValidateStruct(&p,
		validation.Field(&p.NewPassword, validation.Required),
		validation.Field(&p.ConfirmPassword, confirmRules...),
	)
	if err != nil {
		return validationError(err)
	}
	return nil
}

// ForgotPasswordPayload is the body of POST /professional/forgot-password.
type ForgotPasswordPayload struct {
	Email string `json:"email"`
}

// RejectPayload is the body of the reject route.
type RejectPayload struct {
	Reason string `json:"reason"`
}
