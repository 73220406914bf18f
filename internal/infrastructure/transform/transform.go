// Package transform provides the JSON, XML and CSV wire-format transformers
// integration pipelines run packets through. Each transformer implements the
// bidirectional integration.Transformer contract and embeds the shared
// ordered rule chain.
package transform

import (
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

// buildPacket wraps a transformed payload in a fresh packet, merging the
// call metadata and tagging the wire format it was parsed from.
func buildPacket(payload any, tctx integration.TransformContext, format string) *integration.DataPacket {
	packet := integration.NewDataPacket(tctx.IntegrationID, payload)
	if tctx.SchemaVersion != "" {
		packet.SchemaVersion = tctx.SchemaVersion
	}
	for k, v := range tctx.Metadata {
		packet.Metadata[k] = v
	}
	packet.Metadata[integration.MetadataKeyOriginalFormat] = format
	return packet
}
