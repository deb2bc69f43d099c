package outcome

import (
	"fmt"
	"net/http"
	"strings"

	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	jsoncodec "github.com/drblury/runwatch/internal/runtime/jsoncodec"
)

// Status tags the terminal (or current) state of a flow run.
type Status string

const (
	StatusRunning       Status = "RUNNING"
	StatusPaused        Status = "PAUSED"
	StatusStopped       Status = "STOPPED"
	StatusSucceeded     Status = "SUCCEEDED"
	StatusFailed        Status = "FAILED"
	StatusTimeout       Status = "TIMEOUT"
	StatusInternalError Status = "INTERNAL_ERROR"
	StatusQuotaExceeded Status = "QUOTA_EXCEEDED"
)

var statuses = []Status{
	StatusRunning,
	StatusPaused,
	StatusStopped,
	StatusSucceeded,
	StatusFailed,
	StatusTimeout,
	StatusInternalError,
	StatusQuotaExceeded,
}

// Statuses returns every status ToResponse knows how to map.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus resolves a status name case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", errspkg.ErrUnmappedStatus, raw)
	}
	return s, nil
}

// UnmarshalJSON rejects unknown statuses so bad jobs fail at decode time
// instead of panicking inside ToResponse.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := jsoncodec.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PauseType distinguishes pauses that already produced a webhook reply.
type PauseType string

const (
	PauseWebhook PauseType = "WEBHOOK"
	PauseDelay   PauseType = "DELAY"
)

// PauseMetadata describes why a run paused.
type PauseMetadata struct {
	Type     PauseType         `json:"type"`
	Response any               `json:"response,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// StopResponse is the explicit reply a flow returned before stopping.
type StopResponse struct {
	Status  int               `json:"status,omitempty"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Outcome is what the execution engine reports for a run.
type Outcome struct {
	Status        Status         `json:"status"`
	PauseMetadata *PauseMetadata `json:"pauseMetadata,omitempty"`
	StopResponse  *StopResponse  `json:"stopResponse,omitempty"`
}

// Response is the HTTP-shaped reply delivered to a waiting caller.
type Response struct {
	Status  int               `json:"status"`
	Body    any               `json:"body"`
	Headers map[string]string `json:"headers"`
}

const (
	MessageInternalError = "An internal error has occurred"
	MessageFlowFailed    = "The flow has failed and there is no response returned"
	MessageTimedOut      = "The request took too long to reply"
)

// NoContent is the reply used for timeouts and runs with nothing to return.
func NoContent() Response {
	return Response{Status: http.StatusNoContent, Body: map[string]any{}, Headers: map[string]string{}}
}

func messageResponse(status int, message string) Response {
	return Response{Status: status, Body: map[string]any{"message": message}, Headers: map[string]string{}}
}

func headersOrEmpty(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

// ToResponse maps an outcome onto the reply returned to the HTTP caller.
// It panics with ErrUnmappedStatus for a status outside Statuses().
func ToResponse(o Outcome) Response {
	switch o.Status {
	case StatusPaused:
		if o.PauseMetadata != nil && o.PauseMetadata.Type == PauseWebhook {
			return Response{
				Status:  http.StatusOK,
				Body:    o.PauseMetadata.Response,
				Headers: headersOrEmpty(o.PauseMetadata.Headers),
			}
		}
		return NoContent()
	case StatusStopped:
		res := Response{Status: http.StatusOK, Headers: map[string]string{}}
		if o.StopResponse != nil {
			if o.StopResponse.Status != 0 {
				res.Status = o.StopResponse.Status
			}
			res.Body = o.StopResponse.Body
			res.Headers = headersOrEmpty(o.StopResponse.Headers)
		}
		return res
	case StatusInternalError:
		return messageResponse(http.StatusInternalServerError, MessageInternalError)
	case StatusFailed:
		return messageResponse(http.StatusInternalServerError, MessageFlowFailed)
	case StatusTimeout, StatusRunning:
		return messageResponse(http.StatusGatewayTimeout, MessageTimedOut)
	case StatusSucceeded, StatusQuotaExceeded:
		return NoContent()
	}
	panic(fmt.Errorf("%w: %q", errspkg.ErrUnmappedStatus, o.Status))
}

// Identity is the adapter used by watchers that already carry responses.
func Identity(r Response) Response {
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	return r
}
