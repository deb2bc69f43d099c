package watcher

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/runwatch/internal/runtime/errors"
	idspkg "github.com/drblury/runwatch/internal/runtime/ids"
	jsoncodec "github.com/drblury/runwatch/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/runwatch/internal/runtime/metadata"
	"github.com/drblury/runwatch/internal/runtime/outcome"
)

// envelope is the reply payload sent over the transport.
type envelope struct {
	CorrelationID string           `json:"correlationId"`
	Response      outcome.Response `json:"response"`
}

func newReplyMessage(correlationID string, res outcome.Response) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(envelope{CorrelationID: correlationID, Response: res})
	if err != nil {
		return nil, fmt.Errorf("encode reply for %s: %w", correlationID, err)
	}
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(metadatapkg.KeyCorrelationID, correlationID)
	return msg, nil
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var env envelope
	if err := jsoncodec.Unmarshal(payload, &env); err != nil {
		return envelope{}, fmt.Errorf("decode reply: %w", err)
	}
	if env.CorrelationID == "" {
		return envelope{}, fmt.Errorf("decode reply: %w", errspkg.ErrCorrelationIDRequired)
	}
	if env.Response.Headers == nil {
		env.Response.Headers = map[string]string{}
	}
	return env, nil
}
