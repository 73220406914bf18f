package transform

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

// CSVTransformer converts between delimiter-separated text and data packets.
// With a header row (the default) parsed payloads have the shape
//
//	map[string]any{"headers": []string, "rows": []map[string]string}
//
// and without one
//
//	map[string]any{"rows": [][]string}
//
// Parsing strips a UTF-8 BOM and follows the RFC 4180 double-quote
// convention; the configured quote rune is honored when serializing.
type CSVTransformer struct {
	integration.RuleSet
	delimiter  rune
	quote      rune
	terminator string
	hasHeader  bool
	lazyQuotes bool
	trimSpace  bool
	charset    *charmap.Charmap
}

// CSVOption configures a CSVTransformer.
type CSVOption func(*CSVTransformer)

// WithDelimiter sets the field delimiter (default comma).
func WithDelimiter(d rune) CSVOption {
	return func(t *CSVTransformer) { t.delimiter = d }
}

// WithQuote sets the quote rune used when serializing (default double
// quote).
func WithQuote(q rune) CSVOption {
	return func(t *CSVTransformer) { t.quote = q }
}

// WithTerminator sets the line terminator used when serializing (default
// "\n").
func WithTerminator(term string) CSVOption {
	return func(t *CSVTransformer) { t.terminator = term }
}

// WithoutHeader treats the first row as data instead of column names.
func WithoutHeader() CSVOption {
	return func(t *CSVTransformer) { t.hasHeader = false }
}

// WithLazyQuotes tolerates bare quotes inside unquoted fields.
func WithLazyQuotes(lazy bool) CSVOption {
	return func(t *CSVTransformer) { t.lazyQuotes = lazy }
}

// WithTrimSpace trims leading whitespace from fields while parsing.
func WithTrimSpace(trim bool) CSVOption {
	return func(t *CSVTransformer) { t.trimSpace = trim }
}

// WithCharset decodes input from a single-byte charset before parsing, for
// sources that still export latin-1 or windows-1252 files.
func WithCharset(cm *charmap.Charmap) CSVOption {
	return func(t *CSVTransformer) { t.charset = cm }
}

// CharsetByName resolves the charset names accepted in integration configs.
func CharsetByName(name string) (*charmap.Charmap, bool) {
	switch strings.ToLower(name) {
	case "latin-1", "latin1", "iso-8859-1":
		return charmap.ISO8859_1, true
	case "windows-1252", "cp1252":
		return charmap.Windows1252, true
	}
	return nil, false
}

// NewCSVTransformer creates a CSV transformer.
func NewCSVTransformer(opts ...CSVOption) *CSVTransformer {
	t := &CSVTransformer{
		delimiter:  ',',
		quote:      '"',
		terminator: "\n",
		hasHeader:  true,
		lazyQuotes: true,
		trimSpace:  true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements integration.Transformer.
func (t *CSVTransformer) Name() string { return "csv" }

// TransformInbound parses CSV text, runs the rule chain and wraps the
// result in a fresh packet. Non-textual sources are assumed to already be
// in the parsed table shape.
func (t *CSVTransformer) TransformInbound(ctx context.Context, source any, tctx integration.TransformContext) (*integration.DataPacket, error) {
	var raw []byte
	switch v := source.(type) {
	case nil:
		return nil, integration.NewTransformationError(tctx.IntegrationID, "csv: nil source", nil)
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		payload, err := t.ApplyRules(v)
		if err != nil {
			return nil, integration.NewTransformationError(tctx.IntegrationID, "csv: applying rules", err)
		}
		return buildPacket(payload, tctx, "csv"), nil
	}

	payload, err := t.parse(raw)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "csv: parsing input", err)
	}

	transformed, err := t.ApplyRules(payload)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "csv: applying rules", err)
	}
	return buildPacket(transformed, tctx, "csv"), nil
}

// TransformOutbound runs the rule chain over the packet payload and
// serializes the resulting table back to CSV text.
func (t *CSVTransformer) TransformOutbound(ctx context.Context, packet *integration.DataPacket, tctx integration.TransformContext) ([]byte, error) {
	if packet == nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "csv: nil packet", nil)
	}

	value, err := t.ApplyRules(packet.Payload)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "csv: applying rules", err)
	}

	out, err := t.serialize(value)
	if err != nil {
		return nil, integration.NewTransformationError(tctx.IntegrationID, "csv: serializing payload", err)
	}
	return out, nil
}

func (t *CSVTransformer) parse(raw []byte) (map[string]any, error) {
	if t.charset != nil {
		decoded, err := t.charset.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s input: %w", t.charset, err)
		}
		raw = decoded
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = t.delimiter
	reader.LazyQuotes = t.lazyQuotes
	reader.TrimLeadingSpace = t.trimSpace
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("empty input")
	}

	if !t.hasHeader {
		return map[string]any{"rows": records}, nil
	}

	headers := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		if emptyRecord(record) {
			continue
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return map[string]any{"headers": headers, "rows": rows}, nil
}

func (t *CSVTransformer) serialize(value any) ([]byte, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unsupported payload type %T", value)
	}

	var records [][]string
	if headers, ok := stringSlice(m["headers"]); ok {
		records = append(records, headers)
		rows, err := mapRows(m["rows"])
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			record := make([]string, len(headers))
			for i, h := range headers {
				record[i] = row[h]
			}
			records = append(records, record)
		}
	} else {
		rows, err := listRows(m["rows"])
		if err != nil {
			return nil, err
		}
		records = rows
	}

	var b strings.Builder
	for _, record := range records {
		for i, field := range record {
			if i > 0 {
				b.WriteRune(t.delimiter)
			}
			b.WriteString(t.escape(field))
		}
		b.WriteString(t.terminator)
	}
	return []byte(b.String()), nil
}

// escape quotes a field when it contains the delimiter, the quote rune or a
// line break, doubling embedded quotes.
func (t *CSVTransformer) escape(field string) string {
	if !strings.ContainsAny(field, string(t.delimiter)+string(t.quote)+"\r\n") {
		return field
	}
	q := string(t.quote)
	return q + strings.ReplaceAll(field, q, q+q) + q
}

func emptyRecord(record []string) bool {
	for _, field := range record {
		if field != "" {
			return false
		}
	}
	return true
}

func stringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, len(s))
		for i, item := range s {
			out[i] = fmt.Sprint(item)
		}
		return out, true
	}
	return nil, false
}

func mapRows(v any) ([]map[string]string, error) {
	switch rows := v.(type) {
	case nil:
		return nil, nil
	case []map[string]string:
		return rows, nil
	case []any:
		out := make([]map[string]string, 0, len(rows))
		for _, item := range rows {
			switch row := item.(type) {
			case map[string]string:
				out = append(out, row)
			case map[string]any:
				converted := make(map[string]string, len(row))
				for k, val := range row {
					converted[k] = fmt.Sprint(val)
				}
				out = append(out, converted)
			default:
				return nil, fmt.Errorf("unsupported row type %T", item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported rows type %T", v)
}

func listRows(v any) ([][]string, error) {
	switch rows := v.(type) {
	case nil:
		return nil, nil
	case [][]string:
		return rows, nil
	case []any:
		out := make([][]string, 0, len(rows))
		for _, item := range rows {
			record, ok := stringSlice(item)
			if !ok {
				return nil, fmt.Errorf("unsupported row type %T", item)
			}
			out = append(out, record)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported rows type %T", v)
}

var _ integration.Transformer = (*CSVTransformer)(nil)
