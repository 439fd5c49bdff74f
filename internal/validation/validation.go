// Package validation turns raw field values into validated domain values or an
// accumulated list of error messages. Validation is accumulating, not
// fail-fast: every applicable message for a set of fields is collected and
// returned together.
package validation

import (
	"regexp"
	"strings"
)

// emailShape is a conservative check: one @, non-empty local and domain parts,
// at least one dot in the domain.
var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Errors is a non-empty accumulation of field error messages. A nil or empty
// Errors means the fields were valid.
type Errors []string

func (e Errors) Error() string {
	return strings.Join(e, "; ")
}

// Credentials validates the id/password pair shared by sign-up and sign-in.
func Credentials(id, password string) Errors {
	var errs Errors
	if strings.TrimSpace(id) == "" {
		errs = append(errs, "id must not be empty")
	}
	if strings.TrimSpace(password) == "" {
		errs = append(errs, "password must not be empty")
	}
	return errs
}

// SignUp validates the full sign-up field set, accumulating credential and
// email errors together.
func SignUp(id, password, email string) Errors {
	errs := Credentials(id, password)
	if !emailShape.MatchString(email) {
		errs = append(errs, "email is not a valid address")
	}
	return errs
}

// Message validates an inbound chat message's fields.
func Message(to, payload string) Errors {
	var errs Errors
	if strings.TrimSpace(to) == "" {
		errs = append(errs, "to must not be empty")
	}
	if payload == "" {
		errs = append(errs, "payload must not be empty")
	}
	return errs
}

// Malformed wraps an undecodable wire payload as a single validation error so
// decode failures flow through the same channel as field errors.
func Malformed() Errors {
	return Errors{"malformed message payload"}
}
