package responses

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Bop4yH/wallet/pkg/errors"
)

// OK sends a 200 response with data as the body
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a 201 Created response
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends a 204 No Content response
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error renders err as RFC 7807 problem details
func Error(c *gin.Context, err error) {
	problem := errors.ToProblemDetails(err, c.Request.URL.Path)
	if problem.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	if traceID := getTraceID(c); traceID != "" {
		c.Header("X-Trace-ID", traceID)
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(problem.Status, problem)
}

// BadRequest sends a 400 validation problem
func BadRequest(c *gin.Context, detail string) {
	Error(c, errors.InvalidArgument.Explain("%s", detail))
}

// BindingError turns a JSON decoding or validator failure into a 400 problem
func BindingError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
		}
		BadRequest(c, "invalid request: "+strings.Join(fields, ", "))
		return
	}
	BadRequest(c, "invalid request body")
}

// getTraceID extracts trace ID from context
func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get("trace_id"); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}

	// Try to get from headers
	return c.GetHeader("X-Trace-ID")
}
