package responses

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aidin1998/tradecore/pkg/errors"
)

// StandardResponse represents a standard API response format
type StandardResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	StandardResponse
	Pagination *PaginationMeta `json:"pagination,omitempty"`
}

// PaginationMeta echoes the window that was requested
type PaginationMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}, message ...string) {
	respond(c, http.StatusOK, data, "Operation successful", message)
}

// Created sends a 201 Created response
func Created(c *gin.Context, data interface{}, message ...string) {
	respond(c, http.StatusCreated, data, "Resource created successfully", message)
}

// Paginated sends a list with its window
func Paginated(c *gin.Context, data interface{}, pagination *PaginationMeta, message ...string) {
	msg := "Data retrieved successfully"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		StandardResponse: StandardResponse{
			Success:   true,
			Data:      data,
			Message:   msg,
			Timestamp: time.Now().UTC(),
			TraceID:   getTraceID(c),
		},
		Pagination: pagination,
	})
}

func respond(c *gin.Context, status int, data interface{}, fallback string, message []string) {
	msg := fallback
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	c.JSON(status, StandardResponse{
		Success:   true,
		Data:      data,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		TraceID:   getTraceID(c),
	})
}

// Error sends err as an RFC 7807 problem document and aborts the chain.
// extras become additional members of the document.
func Error(c *gin.Context, err error, extras ...gin.H) {
	problem := errors.NewProblem(err, c.Request.URL.Path)
	if traceID := getTraceID(c); traceID != "" {
		problem.WithTraceID(traceID)
	}
	for _, extra := range extras {
		for k, v := range extra {
			problem.WithExtra(k, v)
		}
	}
	problem.WithExtra("timestamp", time.Now().UTC().Format(time.RFC3339))

	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(problem.Status, problem)
}

// getTraceID returns the active span's trace id, falling back to the
// X-Trace-ID request header
func getTraceID(c *gin.Context) string {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return c.GetHeader("X-Trace-ID")
}
