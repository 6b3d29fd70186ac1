package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/zulandar/darkroom/internal/apperr"
	"github.com/zulandar/darkroom/internal/callback"
	"github.com/zulandar/darkroom/internal/task"
	"go.uber.org/zap"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error    string                   `json:"error"`
	Fields   []fieldError             `json:"fields,omitempty"`
	Conflict *task.ConflictDescriptor `json:"conflict,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// HTTPStatus maps an error returned by the stores to a status code.
func HTTPStatus(err error) int {
	var (
		ve  validator.ValidationErrors
		cbe *callback.ValidationError
	)
	switch {
	case errors.Is(err, task.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState),
		errors.Is(err, apperr.ErrInvalidInput),
		errors.As(err, &ve),
		errors.As(err, &cbe):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error response. Internal errors are logged and
// their detail is not echoed to the client.
func (h *handlers) fail(c *gin.Context, err error) {
	status := HTTPStatus(err)
	resp := errorResponse{Error: err.Error()}

	var (
		vc  *task.VersionConflictError
		ve  validator.ValidationErrors
		cbe *callback.ValidationError
	)
	switch {
	case errors.As(err, &vc):
		resp.Conflict = &vc.Conflict
	case errors.As(err, &ve):
		resp.Error = "validation failed"
		resp.Fields = translate(ve)
	case errors.As(err, &cbe):
		resp.Error = "invalid callback payload"
		for _, fe := range cbe.Errors {
			resp.Fields = append(resp.Fields, fieldError{Field: fe.Field, Message: fe.Message})
		}
	}

	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()), zap.Error(err))
		resp.Error = "internal error"
	}
	c.AbortWithStatusJSON(status, resp)
}

// bind decodes the JSON body into obj. Malformed bodies are invalid input;
// tag violations keep their validator.ValidationErrors type.
func bind(c *gin.Context, obj any) error {
	return wrapBindErr(c.ShouldBindJSON(obj))
}

// bindQuery decodes query parameters into obj.
func bindQuery(c *gin.Context, obj any) error {
	return wrapBindErr(c.ShouldBindQuery(obj))
}

func wrapBindErr(err error) error {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
}

// translate turns validator errors into client-facing field messages.
func translate(ve validator.ValidationErrors) []fieldError {
	out := make([]fieldError, 0, len(ve))
	for _, fe := range ve {
		out = append(out, fieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid":
		return "must be a UUID"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

var tagNameOnce sync.Once

// useJSONFieldNames makes validator report fields by their JSON or form name.
func useJSONFieldNames() {
	tagNameOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
	})
}
