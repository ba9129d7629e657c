package auth

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Credentials is the body of /register and /login.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=64,printascii"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// ValidateCredentials checks the shape of c before anything is hashed or stored.
func ValidateCredentials(c Credentials) error {
	c.Username = strings.TrimSpace(c.Username)
	return validate.Struct(c)
}
