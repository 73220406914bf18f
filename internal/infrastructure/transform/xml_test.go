package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

func TestXMLTransformer_Inbound_AttributesAndText(t *testing.T) {
	tr := NewXMLTransformer()

	packet, err := tr.TransformInbound(context.Background(), `<sensor id="s1" unit="C">23.5</sensor>`, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"sensor": map[string]any{"@id": "s1", "@unit": "C", "$": "23.5"},
	}, packet.Payload)
	assert.Equal(t, "xml", packet.Metadata[integration.MetadataKeyOriginalFormat])
}

func TestXMLTransformer_Inbound_TextOnlyElement(t *testing.T) {
	tr := NewXMLTransformer()

	packet, err := tr.TransformInbound(context.Background(), `<name>press</name>`, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "press"}, packet.Payload)
}

func TestXMLTransformer_Inbound_RepeatedChildren(t *testing.T) {
	tr := NewXMLTransformer()

	packet, err := tr.TransformInbound(context.Background(),
		`<line><station>cut</station><station>weld</station><station>paint</station></line>`, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"line": map[string]any{"station": []any{"cut", "weld", "paint"}},
	}, packet.Payload)
}

func TestXMLTransformer_Inbound_NestedElements(t *testing.T) {
	tr := NewXMLTransformer()

	packet, err := tr.TransformInbound(context.Background(),
		`<machine id="m1"><status code="2">running</status></machine>`, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"machine": map[string]any{
			"@id":    "m1",
			"status": map[string]any{"@code": "2", "$": "running"},
		},
	}, packet.Payload)
}

func TestXMLTransformer_Inbound_InvalidDocument(t *testing.T) {
	tr := NewXMLTransformer()

	_, err := tr.TransformInbound(context.Background(), `<open>`, tctx("dev-1"))

	requireTransformationError(t, err)
}

func TestXMLTransformer_Inbound_EmptyDocument(t *testing.T) {
	tr := NewXMLTransformer()

	_, err := tr.TransformInbound(context.Background(), ``, tctx("dev-1"))

	requireTransformationError(t, err)
}

func TestXMLTransformer_Outbound_Exact(t *testing.T) {
	tr := NewXMLTransformer()
	packet := integration.NewDataPacket("dev-1", map[string]any{
		"sensor": map[string]any{"@id": "s1", "$": "23.5"},
	})

	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, `<sensor id="s1">23.5</sensor>`, string(out))
}

func TestXMLTransformer_Outbound_SyntheticRoot(t *testing.T) {
	tr := NewXMLTransformer()
	packet := integration.NewDataPacket("dev-1", map[string]any{"a": "1", "b": "2"})

	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, `<root><a>1</a><b>2</b></root>`, string(out))
}

func TestXMLTransformer_Outbound_RepeatedElements(t *testing.T) {
	tr := NewXMLTransformer()
	packet := integration.NewDataPacket("dev-1", map[string]any{
		"line": map[string]any{"station": []any{"cut", "weld"}},
	})

	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, `<line><station>cut</station><station>weld</station></line>`, string(out))
}

func TestXMLTransformer_RoundTrip(t *testing.T) {
	tr := NewXMLTransformer()
	doc := `<machine id="m1"><speed>120</speed><speed>130</speed><state running="true">ok</state></machine>`

	packet, err := tr.TransformInbound(context.Background(), doc, tctx("dev-1"))
	require.NoError(t, err)
	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))
	require.NoError(t, err)

	assert.Equal(t, doc, string(out))
}

func TestXMLTransformer_RoundTrip_Stable(t *testing.T) {
	tr := NewXMLTransformer()
	doc := `<order id="88"><item sku="a1">2</item><item sku="b2">5</item><note>rush</note></order>`

	packet, err := tr.TransformInbound(context.Background(), doc, tctx("dev-1"))
	require.NoError(t, err)
	out, err := tr.TransformOutbound(context.Background(), packet, tctx("dev-1"))
	require.NoError(t, err)
	reparsed, err := tr.TransformInbound(context.Background(), out, tctx("dev-1"))
	require.NoError(t, err)

	assert.Equal(t, packet.Payload, reparsed.Payload)
}

func TestXMLTransformer_AppliesRules(t *testing.T) {
	tr := NewXMLTransformer()
	require.NoError(t, tr.RegisterRule(integration.TransformationRule{
		ID: "unwrap-name",
		Apply: func(value any) (any, error) {
			doc, _ := value.(map[string]any)
			return doc["name"], nil
		},
	}))

	packet, err := tr.TransformInbound(context.Background(), `<name>press</name>`, tctx("dev-1"))

	require.NoError(t, err)
	assert.Equal(t, "press", packet.Payload)
}
