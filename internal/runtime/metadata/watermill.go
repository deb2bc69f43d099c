package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies message metadata. The result is never nil.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// ToWatermill copies md into a fresh Watermill map, skipping empty values so
// an absent handler id stays absent on the wire.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	for k, v := range md {
		if v != "" {
			wm[k] = v
		}
	}
	return wm
}
