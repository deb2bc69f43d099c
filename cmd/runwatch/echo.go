package main

import (
	"context"
	"net/http"

	"github.com/drblury/runwatch/internal/runtime/dispatch"
	"github.com/drblury/runwatch/internal/runtime/outcome"
)

// echoExecutor stands in for the flow engine: every run stops and answers
// with the request it was started by. With ?respond=early a sync caller is
// answered with 202 before the run finishes.
var echoExecutor = dispatch.ExecutorFunc(func(ctx context.Context, job dispatch.Job) (outcome.Outcome, error) {
	if job.Query["respond"] == "early" {
		err := dispatch.Respond(ctx, outcome.Response{
			Status: http.StatusAccepted,
			Body:   map[string]any{"flowId": job.FlowID, "accepted": true},
		})
		if err == nil {
			return outcome.Outcome{Status: outcome.StatusSucceeded}, nil
		}
	}

	return outcome.Outcome{
		Status: outcome.StatusStopped,
		StopResponse: &outcome.StopResponse{
			Status: http.StatusOK,
			Body: map[string]any{
				"flowId": job.FlowID,
				"method": job.Method,
				"query":  job.Query,
				"body":   job.Body,
			},
		},
	}, nil
})
