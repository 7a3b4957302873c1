package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceHeader    = "X-Trace-ID"
	maxRequestBody = 1 << 20
)

// traceID tags every request with a trace id, reusing the caller's when present
func traceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(traceHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("trace_id", id)
		c.Header(traceHeader, id)
		c.Next()
	}
}

// limitBody caps request bodies; the wallet only accepts small JSON documents
func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)
		}
		c.Next()
	}
}
