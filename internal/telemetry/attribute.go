package telemetry

import (
	"chorddht/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// IdAttributes renders a domain.ID as a set of OTEL resource/span
// attributes under prefix, in decimal, hex, and binary form so a
// trace backend can filter on whichever representation an operator
// is used to reading.
func IdAttributes(prefix string, id domain.ID) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(prefix+".dec", id.ToBigInt().String()),
		attribute.String(prefix+".hex", id.ToHexString(true)),
		attribute.String(prefix+".bin", id.ToBinaryString(true)),
	}
}
