package transform

import (
	"context"
	"encoding/json"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

// JSONTransformer converts between JSON documents and data packets.
type JSONTransformer struct {
	integration.RuleSet
	indent string
}

// JSONOption configures a JSONTransformer.
type JSONOption func(*JSONTransformer)

// WithJSONIndent enables pretty-printed output using the given indent.
func WithJSONIndent(indent string) JSONOption {
	return func(t *JSONTransformer) { t.indent = indent }
}

// NewJSONTransformer creates a JSON transformer.
func NewJSONTransformer(opts ...JSONOption) *JSONTransformer {
	t := &JSONTransformer{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements integration.Transformer.
func (t *JSONTransformer) Name() string { return "json" }

// TransformInbound parses JSON input, runs the rule chain and wraps the
// result in a fresh packet. Raw []byte and string sources are parsed;
// anything else is treated as already-decoded JSON.
func (t *JSONTransformer) TransformInbound(ctx context.Context, source any, tctx integration.TransformContext) (*integration.DataPacket, error) {
	var payload any
	switch v := source.(type) {
	case nil:
		return nil, integration.NewTransformationError(tctx.IntegrationID, "json: nil source", nil)
	case []byte:
		if err := json.Unmarshal(v, &payload); err != nil {
			return nil, integration.NewTransformationError(tctx.IntegrationID, "json: parsing input", err)
		}
	case json.RawMessage:
		if err := json.Unmarshal(v, &payload); err != nil {
			return nil, integration.NewTransformationError(tctx.IntegrationID, "json: parsing input", err)
		}
	case string:
		if err := json.Unmarshal([]byte(v), &payload); err != nil {
			return nil, integration.NewTransformationError(tctx.IntegrationID, "json: parsing input", err)
		}
	default:
		payload = v
	}

	payload, err := t.ApplyRules(payload)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "json: applying rules", err)
	}
	return buildPacket(payload, tctx, "json"), nil
}

// TransformOutbound runs the rule chain over the packet payload and
// serializes the result to JSON.
func (t *JSONTransformer) TransformOutbound(ctx context.Context, packet *integration.DataPacket, tctx integration.TransformContext) ([]byte, error) {
	if packet == nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "json: nil packet", nil)
	}

	value, err := t.ApplyRules(packet.Payload)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "json: applying rules", err)
	}

	var out []byte
	if t.indent != "" {
		out, err = json.MarshalIndent(value, "", t.indent)
	} else {
		out, err = json.Marshal(value)
	}
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "json: serializing payload", err)
	}
	return out, nil
}

var _ integration.Transformer = (*JSONTransformer)(nil)
