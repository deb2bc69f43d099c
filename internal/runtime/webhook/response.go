package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"

	jsoncodec "github.com/drblury/runwatch/internal/runtime/jsoncodec"
	"github.com/drblury/runwatch/internal/runtime/outcome"
)

// WriteResponse writes a resolved flow response. Headers from the response
// win over the default content type. 204 and nil bodies write no body.
func WriteResponse(c *gin.Context, res outcome.Response) {
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	for k, v := range res.Headers {
		c.Header(k, v)
	}

	if status == http.StatusNoContent || res.Body == nil {
		c.Status(status)
		c.Writer.WriteHeaderNow()
		return
	}

	switch body := res.Body.(type) {
	case string:
		c.Data(status, "text/plain; charset=utf-8", []byte(body))
	case []byte:
		c.Data(status, "application/octet-stream", body)
	default:
		payload, err := jsoncodec.Marshal(body)
		if err != nil {
			writeMessage(c, http.StatusInternalServerError, outcome.MessageInternalError)
			return
		}
		c.Data(status, "application/json; charset=utf-8", payload)
	}
}

func writeMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}
