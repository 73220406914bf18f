package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataPacket(t *testing.T) {
	p := NewDataPacket("mqtt-1", map[string]any{"temp": 21.5})

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "mqtt-1", p.Source)
	assert.False(t, p.Timestamp.IsZero())
	assert.Equal(t, map[string]any{"temp": 21.5}, p.Payload)

	// Each packet gets its own id.
	p2 := NewDataPacket("mqtt-1", nil)
	assert.NotEqual(t, p.ID, p2.ID)
}

func TestDataPacket_Chaining(t *testing.T) {
	p := NewDataPacket("csv-1", "raw").
		WithMetadata(MetadataKeyOriginalFormat, "csv").
		WithMetadata("line", "7").
		WithSchemaVersion("2").
		WithQuality(DataQuality{Reliable: true, Accuracy: 0.98})

	assert.Equal(t, "csv", p.OriginalFormat())
	assert.Equal(t, "7", p.Metadata["line"])
	assert.Equal(t, "2", p.SchemaVersion)
	require.NotNil(t, p.Quality)
	assert.True(t, p.Quality.Reliable)
}

func TestDataPacket_OriginalFormat_Unset(t *testing.T) {
	p := NewDataPacket("mqtt-1", nil)
	assert.Empty(t, p.OriginalFormat())
}

func TestDataPacket_Clone(t *testing.T) {
	p := NewDataPacket("mqtt-1", "payload").
		WithMetadata("k", "v").
		WithQuality(DataQuality{Reliable: true})

	c := p.Clone()
	c.Metadata["k"] = "changed"
	c.Quality.Reliable = false

	assert.Equal(t, "v", p.Metadata["k"])
	assert.True(t, p.Quality.Reliable)
	assert.Equal(t, p.ID, c.ID)
	assert.Equal(t, p.Payload, c.Payload)
}
