package integration

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// DataPacket
// ---------------------------------------------------------------------------

// DataQuality carries source-reported confidence for a packet's payload
type DataQuality struct {
	// Reliable marks the payload as trustworthy by the source's own account
	Reliable bool `json:"reliable"`
	// Accuracy is a source-specific accuracy figure (unit defined by source)
	Accuracy float64 `json:"accuracy,omitempty"`
	// Status is a free-form source quality code (e.g. "good", "stale")
	Status string `json:"status,omitempty"`
}

// DataPacket is the wire-neutral envelope every payload crosses the
// integration boundary in. Packets are rebuilt on each transformation,
// never mutated in place.
type DataPacket struct {
	// ID uniquely identifies this packet
	ID string `json:"id"`
	// Source names the producing integration or system
	Source string `json:"source"`
	// Timestamp is when the packet was produced
	Timestamp time.Time `json:"timestamp"`
	// Payload is the format-independent data
	Payload any `json:"payload"`
	// SchemaVersion optionally tags the payload schema
	SchemaVersion string `json:"schema_version,omitempty"`
	// Quality optionally carries source-reported confidence
	Quality *DataQuality `json:"quality,omitempty"`
	// Metadata carries transport annotations (original format, topic, path)
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MetadataKeyOriginalFormat tags the wire format a packet was parsed from
const MetadataKeyOriginalFormat = "originalFormat"

// NewDataPacket creates a packet with a fresh id and timestamp
func NewDataPacket(source string, payload any) *DataPacket {
	return &DataPacket{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  make(map[string]string),
	}
}

// WithMetadata returns the packet after setting one metadata entry
func (p *DataPacket) WithMetadata(key, value string) *DataPacket {
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[key] = value
	return p
}

// WithQuality returns the packet after attaching quality information
func (p *DataPacket) WithQuality(q DataQuality) *DataPacket {
	p.Quality = &q
	return p
}

// WithSchemaVersion returns the packet after tagging the payload schema
func (p *DataPacket) WithSchemaVersion(version string) *DataPacket {
	p.SchemaVersion = version
	return p
}

// OriginalFormat returns the wire format recorded by the producing
// transformer, or "" when unknown
func (p *DataPacket) OriginalFormat() string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[MetadataKeyOriginalFormat]
}

// Clone returns a shallow copy with its own metadata map. The payload is
// shared; transformers rebuild payloads rather than editing them.
func (p *DataPacket) Clone() *DataPacket {
	clone := *p
	if p.Metadata != nil {
		clone.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}
	if p.Quality != nil {
		q := *p.Quality
		clone.Quality = &q
	}
	return &clone
}
