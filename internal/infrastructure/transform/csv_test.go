package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

func TestCSVTransformer_Inbound_HeaderMode(t *testing.T) {
	tr := NewCSVTransformer()

	packet, err := tr.TransformInbound(context.Background(), "a,b\n1,2\n3,4", tctx("dev-1"))

	require.NoError(t, err)
	doc, ok := packet.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, doc["headers"])
	assert.Equal(t, []map[string]string{
		{"a": "1", "b": "2"},
		{"a": "3", "b": "4"},
	}, doc["rows"])
	assert.Equal(t, "csv", packet.Metadata[integration.MetadataKeyOriginalFormat])
}

func TestCSVTransformer_RoundTrip(t *testing.T) {
	tr := NewCSVTransformer()

	packet, err := tr.TransformInbound(context.Background(), "a,b\n1,2\n3,4", tctx("dev-1"))
	require.NoError(t, err)
	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))
	require.NoError(t, err)

	assert.Equal(t, "a,b\n1,2\n3,4\n", string(out))
}

func TestCSVTransformer_Inbound_StripsBOM(t *testing.T) {
	tr := NewCSVTransformer()
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("a,b\n1,2")...)

	packet, err := tr.TransformInbound(context.Background(), raw, tctx("dev-1"))

	require.NoError(t, err)
	doc := packet.Payload.(map[string]any)
	assert.Equal(t, []string{"a", "b"}, doc["headers"])
}

func TestCSVTransformer_Inbound_QuotedFields(t *testing.T) {
	tr := NewCSVTransformer()

	packet, err := tr.TransformInbound(context.Background(), "name,note\n\"w1\",\"a,b\"", tctx("dev-1"))

	require.NoError(t, err)
	doc := packet.Payload.(map[string]any)
	rows := doc["rows"].([]map[string]string)
	require.Len(t, rows, 1)
	assert.Equal(t, "a,b", rows[0]["note"])
}

func TestCSVTransformer_Inbound_PadsShortRows(t *testing.T) {
	tr := NewCSVTransformer()

	packet, err := tr.TransformInbound(context.Background(), "a,b,c\n1,2", tctx("dev-1"))

	require.NoError(t, err)
	doc := packet.Payload.(map[string]any)
	rows := doc["rows"].([]map[string]string)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": ""}, rows[0])
}

func TestCSVTransformer_Inbound_SkipsEmptyRows(t *testing.T) {
	tr := NewCSVTransformer()

	packet, err := tr.TransformInbound(context.Background(), "a,b\n1,2\n,\n3,4", tctx("dev-1"))

	require.NoError(t, err)
	doc := packet.Payload.(map[string]any)
	assert.Len(t, doc["rows"], 2)
}

func TestCSVTransformer_Inbound_EmptyInput(t *testing.T) {
	tr := NewCSVTransformer()

	_, err := tr.TransformInbound(context.Background(), "", tctx("dev-1"))

	requireTransformationError(t, err)
}

func TestCSVTransformer_CustomDelimiter(t *testing.T) {
	tr := NewCSVTransformer(WithDelimiter(';'))

	packet, err := tr.TransformInbound(context.Background(), "a;b\n1;2", tctx("dev-1"))
	require.NoError(t, err)
	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))
	require.NoError(t, err)

	assert.Equal(t, "a;b\n1;2\n", string(out))
}

func TestCSVTransformer_WithoutHeader(t *testing.T) {
	tr := NewCSVTransformer(WithoutHeader())

	packet, err := tr.TransformInbound(context.Background(), "1,2\n3,4", tctx("dev-1"))
	require.NoError(t, err)

	doc := packet.Payload.(map[string]any)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, doc["rows"])
	_, hasHeaders := doc["headers"]
	assert.False(t, hasHeaders)

	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))
	require.NoError(t, err)
	assert.Equal(t, "1,2\n3,4\n", string(out))
}

func TestCSVTransformer_Outbound_EscapesFields(t *testing.T) {
	tr := NewCSVTransformer()
	packet := integration.NewDataPacket("dev-1", map[string]any{
		"headers": []string{"name", "note"},
		"rows": []map[string]string{
			{"name": "w1", "note": "a,b"},
			{"name": "w2", "note": `say "hi"`},
		},
	})

	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, "name,note\nw1,\"a,b\"\nw2,\"say \"\"hi\"\"\"\n", string(out))
}

func TestCSVTransformer_Outbound_CRLFTerminator(t *testing.T) {
	tr := NewCSVTransformer(WithTerminator("\r\n"))
	packet := integration.NewDataPacket("dev-1", map[string]any{
		"headers": []string{"a"},
		"rows":    []map[string]string{{"a": "1"}},
	})

	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, "a\r\n1\r\n", string(out))
}

func TestCSVTransformer_Outbound_GenericPayload(t *testing.T) {
	tr := NewCSVTransformer()
	packet := integration.NewDataPacket("dev-1", map[string]any{
		"headers": []any{"a", "b"},
		"rows":    []any{map[string]any{"a": 1, "b": 2}},
	})

	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(out))
}

func TestCSVTransformer_Outbound_UnsupportedPayload(t *testing.T) {
	tr := NewCSVTransformer()
	packet := integration.NewDataPacket("dev-1", "not tabular")

	_, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))

	requireTransformationError(t, err)
}

func TestCSVTransformer_Latin1Charset(t *testing.T) {
	tr := NewCSVTransformer(WithCharset(charmap.ISO8859_1))
	raw := []byte("name\ncaf\xe9")

	packet, err := tr.TransformInbound(context.Background(), raw, tctx("dev-1"))

	require.NoError(t, err)
	doc := packet.Payload.(map[string]any)
	rows := doc["rows"].([]map[string]string)
	require.Len(t, rows, 1)
	assert.Equal(t, "café", rows[0]["name"])
}

func TestCharsetByName(t *testing.T) {
	cm, ok := CharsetByName("latin-1")
	require.True(t, ok)
	assert.Equal(t, charmap.ISO8859_1, cm)

	cm, ok = CharsetByName("windows-1252")
	require.True(t, ok)
	assert.Equal(t, charmap.Windows1252, cm)

	_, ok = CharsetByName("shift-jis")
	assert.False(t, ok)
}
