// Package validation turns untrusted JSON bodies into typed request structs. Binding is
// strict: unknown fields, malformed JSON and tag violations all yield a field→message map,
// and handlers reply 400 before any business logic runs.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/auth"
)

// FieldErrors maps a JSON field name to a human-readable message. Empty means valid.
type FieldErrors map[string]string

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

var registerOnce sync.Once

// Register installs the custom rules and JSON field naming on gin's validator.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonFieldName)
		_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
			return len(auth.PasswordPolicyViolations(fl.Field().String())) == 0
		})
		_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return auth.IsValidRole(fl.Field().String())
		})
	})
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		name = strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
	}
	if name == "" {
		return f.Name
	}
	return name
}

// BindJSON decodes the request body into dst, rejecting unknown fields, then runs struct
// validation. It returns nil when the body is valid.
func BindJSON(c *gin.Context, dst interface{}) FieldErrors {
	Register()

	if c.Request.Body == nil {
		return FieldErrors{"body": "request body is required"}
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return FieldErrors{"body": "could not read request body"}
	}
	if len(raw) > maxBodyBytes {
		return FieldErrors{"body": "request body too large"}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeErrors(err)
	}
	return Struct(dst)
}

// BindQuery binds URL query parameters using `form` tags and validates them.
func BindQuery(c *gin.Context, dst interface{}) FieldErrors {
	Register()
	if err := c.ShouldBindQuery(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return translate(verrs)
		}
		return FieldErrors{"query": "invalid query parameters"}
	}
	return nil
}

// Struct validates an already-populated struct
func Struct(s interface{}) FieldErrors {
	Register()
	if err := binding.Validator.ValidateStruct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return translate(verrs)
		}
		return FieldErrors{"body": err.Error()}
	}
	return nil
}

func decodeErrors(err error) FieldErrors {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, io.EOF):
		return FieldErrors{"body": "request body is required"}
	case errors.As(err, &typeErr):
		return FieldErrors{typeErr.Field: fmt.Sprintf("must be of type %s", typeErr.Type)}
	case errors.As(err, &syntaxErr):
		return FieldErrors{"body": "malformed JSON"}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return FieldErrors{field: "unknown field"}
	default:
		return FieldErrors{"body": "malformed JSON"}
	}
}

func translate(verrs validator.ValidationErrors) FieldErrors {
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, exists := out[field]; exists {
			continue
		}
		out[field] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "eqfield":
		return "passwords do not match"
	case "password":
		return strings.Join(auth.PasswordPolicyViolations(fe.Value().(string)), "; ")
	case "role":
		return "must be one of: user admin"
	case "url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// PageQuery is the pagination query shared by list endpoints
type PageQuery struct {
	Page    int `form:"page" binding:"omitempty,min=1,max=100000"`
	PerPage int `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// Limits returns the page number, page size and row offset, applying defaults
func (p PageQuery) Limits() (page, perPage, offset int) {
	page, perPage = p.Page, p.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	return page, perPage, (page - 1) * perPage
}

// PathID returns the named path parameter in canonical UUID form. A malformed id is
// answered with 404 and ok=false so the handler returns before touching the database.
func PathID(c *gin.Context, name string) (id string, ok bool) {
	u, err := uuid.Parse(c.Param(name))
	if err != nil {
		apperr.Respond(c, apperr.ErrNotFound)
		return "", false
	}
	return u.String(), true
}
