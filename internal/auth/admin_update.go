package auth

import (
	"errors"
	"fmt"

	"github.com/2beens/pressauth/internal/admin"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes
	maxPasswordLength = 72
)

// AdminUpdate is the body of PUT /auth/admin. Omitted fields are left unchanged.
type AdminUpdate struct {
	Name        *string `json:"name"`
	Slogan      *string `json:"slogan"`
	Gravatar    *string `json:"gravatar"`
	Password    *string `json:"password"`
	NewPassword *string `json:"new_password"`
}

func (u AdminUpdate) Validate() error {
	if u.Name == nil && u.Slogan == nil && u.Gravatar == nil && u.Password == nil && u.NewPassword == nil {
		return fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	err := validation.ValidateStruct(&u,
		validation.Field(&u.Name, validation.NilOrNotEmpty, validation.RuneLength(1, 100)),
		validation.Field(&u.Slogan, validation.RuneLength(0, 300)),
		validation.Field(&u.Gravatar, validation.RuneLength(0, 500), is.URL),
		validation.Field(&u.Password, validation.NilOrNotEmpty),
		validation.Field(&u.NewPassword, validation.NilOrNotEmpty, validation.Length(minPasswordLength, maxPasswordLength)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if (u.Password == nil) != (u.NewPassword == nil) {
		return fmt.Errorf("%w: %w", ErrValidation, validation.Errors{
			"new_password": errors.New("password and new_password must be set together"),
		})
	}

	return nil
}

func (u AdminUpdate) changesPassword() bool {
	return u.Password != nil && u.NewPassword != nil
}

func (u AdminUpdate) profileUpdate() admin.ProfileUpdate {
	return admin.ProfileUpdate{
		Name:     u.Name,
		Slogan:   u.Slogan,
		Gravatar: u.Gravatar,
	}
}
