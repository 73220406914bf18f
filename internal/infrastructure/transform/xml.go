package transform

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

const (
	xmlAttrPrefix = "@"
	xmlTextKey    = "$"
)

// XMLTransformer converts between XML documents and data packets. Elements
// map to nested maps: "@"-prefixed keys carry attributes, the "$" key
// carries text content next to attributes or children, repeated child
// elements collapse into arrays, and elements with nothing but text become
// plain strings. Parsing produces a single-key map naming the root element;
// serialization unwraps it again, so a parsed document round-trips.
type XMLTransformer struct {
	integration.RuleSet
	indent string
}

// XMLOption configures an XMLTransformer.
type XMLOption func(*XMLTransformer)

// WithXMLIndent enables indented output using the given indent.
func WithXMLIndent(indent string) XMLOption {
	return func(t *XMLTransformer) { t.indent = indent }
}

// NewXMLTransformer creates an XML transformer.
func NewXMLTransformer(opts ...XMLOption) *XMLTransformer {
	t := &XMLTransformer{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements integration.Transformer.
func (t *XMLTransformer) Name() string { return "xml" }

// TransformInbound parses an XML document, runs the rule chain and wraps
// the result in a fresh packet.
func (t *XMLTransformer) TransformInbound(ctx context.Context, source any, tctx integration.TransformContext) (*integration.DataPacket, error) {
	var payload any
	var err error
	switch v := source.(type) {
	case nil:
		return nil, integration.NewTransformationError(tctx.IntegrationID, "xml: nil source", nil)
	case []byte:
		payload, err = parseXML(v)
	case string:
		payload, err = parseXML([]byte(v))
	default:
		payload = v
	}
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "xml: parsing input", err)
	}

	payload, err = t.ApplyRules(payload)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "xml: applying rules", err)
	}
	return buildPacket(payload, tctx, "xml"), nil
}

// TransformOutbound runs the rule chain over the packet payload and
// serializes the result to XML.
func (t *XMLTransformer) TransformOutbound(ctx context.Context, packet *integration.DataPacket, tctx integration.TransformContext) ([]byte, error) {
	if packet == nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "xml: nil packet", nil)
	}

	value, err := t.ApplyRules(packet.Payload)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "xml: applying rules", err)
	}

	out, err := serializeXML(value, t.indent)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "xml: serializing payload", err)
	}
	return out, nil
}

// parseXML decodes a document into the map form described on XMLTransformer.
func parseXML(data []byte) (any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("no root element: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			value, err := decodeElement(decoder, start)
			if err != nil {
				return nil, err
			}
			return map[string]any{start.Name.Local: value}, nil
		}
	}
}

// decodeElement consumes tokens up to the element's end tag.
func decodeElement(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	attrs := make(map[string]any, len(start.Attr))
	for _, a := range start.Attr {
		attrs[xmlAttrPrefix+a.Name.Local] = a.Value
	}

	children := make(map[string]any)
	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(decoder, el)
			if err != nil {
				return nil, err
			}
			name := el.Name.Local
			switch existing := children[name].(type) {
			case nil:
				children[name] = child
			case []any:
				children[name] = append(existing, child)
			default:
				children[name] = []any{existing, child}
			}
		case xml.CharData:
			text.Write(el)
		case xml.EndElement:
			content := strings.TrimSpace(text.String())
			if len(attrs) == 0 && len(children) == 0 {
				return content, nil
			}
			m := make(map[string]any, len(attrs)+len(children)+1)
			for k, v := range attrs {
				m[k] = v
			}
			for k, v := range children {
				m[k] = v
			}
			if content != "" {
				m[xmlTextKey] = content
			}
			return m, nil
		}
	}
}

func serializeXML(value any, indent string) ([]byte, error) {
	element, rootName := xmlRoot(value)

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if indent != "" {
		enc.Indent("", indent)
	}
	if err := encodeElement(enc, rootName, element); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// xmlRoot unwraps the single-key document map produced by parsing. Anything
// else serializes under a synthetic "root" element.
func xmlRoot(value any) (any, string) {
	if m, ok := value.(map[string]any); ok && len(m) == 1 {
		for name, v := range m {
			if !strings.HasPrefix(name, xmlAttrPrefix) && name != xmlTextKey {
				return v, name
			}
		}
	}
	return value, "root"
}

func encodeElement(enc *xml.Encoder, name string, value any) error {
	switch v := value.(type) {
	case map[string]any:
		start := xml.StartElement{Name: xml.Name{Local: name}}

		var attrKeys, childKeys []string
		for k := range v {
			switch {
			case strings.HasPrefix(k, xmlAttrPrefix):
				attrKeys = append(attrKeys, k)
			case k == xmlTextKey:
			default:
				childKeys = append(childKeys, k)
			}
		}
		sort.Strings(attrKeys)
		sort.Strings(childKeys)

		for _, k := range attrKeys {
			start.Attr = append(start.Attr, xml.Attr{
				Name:  xml.Name{Local: strings.TrimPrefix(k, xmlAttrPrefix)},
				Value: fmt.Sprint(v[k]),
			})
		}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if text, ok := v[xmlTextKey]; ok {
			if err := enc.EncodeToken(xml.CharData(fmt.Sprint(text))); err != nil {
				return err
			}
		}
		for _, k := range childKeys {
			if err := encodeElement(enc, k, v[k]); err != nil {
				return err
			}
		}
		return enc.EncodeToken(xml.EndElement{Name: start.Name})
	case []any:
		// Arrays repeat the element name, mirroring how repeated children
		// were collapsed during parsing.
		for _, item := range v {
			if err := encodeElement(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	case nil:
		start := xml.StartElement{Name: xml.Name{Local: name}}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		return enc.EncodeToken(xml.EndElement{Name: start.Name})
	default:
		start := xml.StartElement{Name: xml.Name{Local: name}}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if err := enc.EncodeToken(xml.CharData(fmt.Sprint(v))); err != nil {
			return err
		}
		return enc.EncodeToken(xml.EndElement{Name: start.Name})
	}
}

var _ integration.Transformer = (*XMLTransformer)(nil)
