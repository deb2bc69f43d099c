package runwatch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

func TestFlowWatcherRoundTripThroughExports(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	flows, err := NewFlowWatcher(ps, ps, WithHandlerID("proc-A"), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewFlowWatcher: %v", err)
	}
	if err := flows.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = flows.Shutdown(context.Background()) })

	ticket, err := flows.Expect(context.Background(), "req-1", true)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	err = flows.Publish(context.Background(), "req-1", "proc-A", Outcome{
		Status:       StatusStopped,
		StopResponse: &StopResponse{Status: http.StatusAccepted, Body: "ok"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	res, err := ticket.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != http.StatusAccepted || res.Body != "ok" {
		t.Fatalf("unexpected response %+v", res)
	}
}

func TestToResponseExport(t *testing.T) {
	res := ToResponse(Outcome{Status: StatusFailed})
	if res.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Status)
	}
	if got := NoContent().Status; got != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", got)
	}
	if len(Statuses()) != 8 {
		t.Fatalf("expected 8 statuses, got %d", len(Statuses()))
	}
	if _, err := ParseStatus("sideways"); !errors.Is(err, ErrUnmappedStatus) {
		t.Fatalf("expected ErrUnmappedStatus, got %v", err)
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	if md["key"] != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}

	msg := message.NewMessage(CreateULID(), nil)
	msg.Metadata.Set("correlation_id", "req-9")
	if got := MetadataFromMessage(msg).CorrelationID(); got != "req-9" {
		t.Fatalf("expected correlation id from message, got %q", got)
	}
	if len(MetadataFromMessage(nil)) != 0 {
		t.Fatal("expected empty metadata for nil message")
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NewNopServiceLogger()
	logger.Info("boot", LogFields{"component": "test"})
	NewLogger(ParseLogLevel("debug"), "runwatch", "proc-A").Debug("ready", nil)
}

func TestSentinelErrorsExported(t *testing.T) {
	if _, err := NewFlowWatcher(nil, nil); !errors.Is(err, ErrPublisherRequired) {
		t.Fatalf("expected ErrPublisherRequired, got %v", err)
	}
	if _, err := NewService(context.Background(), nil, nil, ServiceDependencies{}); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected ErrConfigRequired, got %v", err)
	}
}
