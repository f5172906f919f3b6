package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/kursadbilgin/hookline/internal/domain"
)

// HeaderOrgID scopes admin and publish calls to an organization. Requests
// without it act on domain.DefaultOrgID.
const HeaderOrgID = "X-Hookline-Org"

var validate = validator.New()

// bindJSON decodes the body into dst and runs its validate tags. Both
// failures are reported as domain.ErrValidation.
func bindJSON(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", lowerFirst(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, ", "))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func orgID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(HeaderOrgID)); value != "" {
		return value
	}
	return domain.DefaultOrgID
}

func param(c *fiber.Ctx, name string) string {
	return strings.TrimSpace(c.Params(name))
}

func parseRFC3339(value string, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return t, nil
}
