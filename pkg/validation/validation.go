// Package validation holds ozzo-validation rules shared by the HTTP
// controllers.
package validation

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rivo/uniseg"
)

// MaxBodyGraphemes caps outbound text bodies, counted as user-perceived
// characters.
const MaxBodyGraphemes = 4096

var accountPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// MessageBody rejects blank bodies and bodies longer than
// MaxBodyGraphemes.
var MessageBody = validation.By(func(value interface{}) error {
	body, _ := value.(string)
	if strings.TrimSpace(body) == "" {
		return errors.New("cannot be blank")
	}
	if uniseg.GraphemeClusterCount(body) > MaxBodyGraphemes {
		return errors.New("is too long")
	}
	return nil
})

// AccountID accepts opaque account identifiers of up to 128 characters.
var AccountID = validation.Match(accountPattern).Error("must be an account identifier")
