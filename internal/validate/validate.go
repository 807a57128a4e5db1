package validate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Kind classifies the outcome of one validation attempt.
type Kind int

const (
	OK Kind = iota
	SchemaError
	ParseError
	ValidationError
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case SchemaError:
		return "SCHEMA_ERROR"
	case ParseError:
		return "PARSE_ERROR"
	case ValidationError:
		return "VALIDATION_ERROR"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Status is the result of parsing or validating one payload. The pointers are
// URI fragments (#/data/0/title) and are only set for VALIDATION_ERROR.
type Status struct {
	Kind            Kind   `json:"kind"`
	Message         string `json:"message,omitempty"`
	Detail          string `json:"detail,omitempty"`
	DocumentPointer string `json:"document_pointer,omitempty"`
	SchemaPointer   string `json:"schema_pointer,omitempty"`
	Keyword         string `json:"keyword,omitempty"`
}

var statusOK = Status{Kind: OK}

func (s Status) OK() bool {
	return s.Kind == OK
}

// Err returns nil for OK and an *Error otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &Error{Status: s}
}

func (s Status) String() string {
	if s.OK() {
		return s.Kind.String()
	}
	if s.Detail == "" {
		return s.Kind.String() + ": " + s.Message
	}
	return s.Kind.String() + ": " + s.Message + ": " + s.Detail
}

type Error struct {
	Status Status
}

func (e *Error) Error() string {
	return e.Status.String()
}

// KindOf reports the validation kind carried by err, or OK if err is not a validation error.
func KindOf(err error) Kind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Status.Kind
	}
	return OK
}

// Document is a syntactically valid JSON payload.
type Document struct {
	raw   []byte
	value any
}

func (d Document) Raw() []byte {
	return d.raw
}

// Parse checks that raw is well-formed JSON.
func Parse(raw []byte) (Document, Status) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Document{}, Status{
			Kind:    ParseError,
			Message: "invalid json response",
			Detail:  err.Error(),
		}
	}
	return Document{raw: raw, value: v}, statusOK
}

type compiledSchema struct {
	schema *gojsonschema.Schema
	tree   any
}

var compiled sync.Map // variant name -> *compiledSchema

func schemaFor(p Payload) (*compiledSchema, error) {
	if c, ok := compiled.Load(p.Name()); ok {
		return c.(*compiledSchema), nil
	}
	src := p.Schema()
	var tree any
	if err := json.Unmarshal([]byte(src), &tree); err != nil {
		return nil, err
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, err
	}
	c, _ := compiled.LoadOrStore(p.Name(), &compiledSchema{schema: s, tree: tree})
	return c.(*compiledSchema), nil
}

// Validate checks doc against the schema supplied by p.
func Validate(p Payload, doc Document) Status {
	cs, err := schemaFor(p)
	if err != nil {
		return Status{
			Kind:    SchemaError,
			Message: "invalid json schema in " + p.Name(),
			Detail:  err.Error(),
		}
	}
	if doc.raw == nil {
		return Status{Kind: ParseError, Message: "invalid json response in " + p.Name(), Detail: "empty document"}
	}

	result, err := cs.schema.Validate(gojsonschema.NewBytesLoader(doc.raw))
	if err != nil {
		return Status{Kind: ParseError, Message: "invalid json response in " + p.Name(), Detail: err.Error()}
	}
	if result.Valid() {
		return statusOK
	}

	first := result.Errors()[0]
	segments := contextSegments(first.Context())
	keyword := keywordFor(first.Type())
	docPtr := documentPointer(segments)
	schemaPtr := schemaPointer(cs.tree, doc.value, segments, keyword)
	return Status{
		Kind:            ValidationError,
		Message:         "json validation failed",
		Detail:          fmt.Sprintf("invalid %s, document at %s does not match schema at %s: %s", keyword, docPtr, schemaPtr, first.Description()),
		DocumentPointer: docPtr,
		SchemaPointer:   schemaPtr,
		Keyword:         keyword,
	}
}

// Decode parses raw, validates it and only then unmarshals it into p.
func Decode(p Payload, raw []byte) Status {
	doc, st := Parse(raw)
	if !st.OK() {
		st.Message += " in " + p.Name()
		return st
	}
	if st = Validate(p, doc); !st.OK() {
		return st
	}
	if err := json.Unmarshal(raw, p); err != nil {
		p.reset()
		return Status{Kind: ParseError, Message: "cannot decode " + p.Name(), Detail: err.Error()}
	}
	return statusOK
}

const segmentSep = "\x1f"

// contextSegments splits a gojsonschema context such as (root).data.0 into its path
// segments, without the root marker.
func contextSegments(ctx *gojsonschema.JsonContext) []string {
	if ctx == nil {
		return nil
	}
	parts := strings.Split(ctx.String(segmentSep), segmentSep)
	if len(parts) > 0 && parts[0] == gojsonschema.STRING_CONTEXT_ROOT {
		parts = parts[1:]
	}
	return parts
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func documentPointer(segments []string) string {
	var b strings.Builder
	b.WriteString("#")
	for _, seg := range segments {
		b.WriteString("/")
		b.WriteString(escapePointer(seg))
	}
	return b.String()
}

// schemaPointer follows the document path through the schema tree and returns the
// location of the failing keyword.
func schemaPointer(tree, doc any, segments []string, keyword string) string {
	var b strings.Builder
	b.WriteString("#")
	node, _ := tree.(map[string]any)
	for _, seg := range segments {
		if node == nil {
			break
		}
		switch d := doc.(type) {
		case []any:
			idx, _ := strconv.Atoi(seg)
			if idx >= 0 && idx < len(d) {
				doc = d[idx]
			}
			next, ok := node["items"].(map[string]any)
			if !ok {
				node = nil
				continue
			}
			b.WriteString("/items")
			node = next
		default:
			if m, ok := d.(map[string]any); ok {
				doc = m[seg]
			}
			if props, ok := node["properties"].(map[string]any); ok {
				if next, ok := props[seg].(map[string]any); ok {
					b.WriteString("/properties/")
					b.WriteString(escapePointer(seg))
					node = next
					continue
				}
			}
			if next, ok := node["additionalProperties"].(map[string]any); ok {
				b.WriteString("/additionalProperties")
				node = next
				continue
			}
			node = nil
		}
	}
	if keyword != "" {
		b.WriteString("/")
		b.WriteString(keyword)
	}
	return b.String()
}

var keywords = map[string]string{
	"invalid_type":                    "type",
	"required":                        "required",
	"enum":                            "enum",
	"const":                           "const",
	"pattern":                         "pattern",
	"format":                          "format",
	"string_gte":                      "minLength",
	"string_lte":                      "maxLength",
	"number_gte":                      "minimum",
	"number_lte":                      "maximum",
	"number_gt":                       "exclusiveMinimum",
	"number_lt":                       "exclusiveMaximum",
	"multiple_of":                     "multipleOf",
	"array_min_items":                 "minItems",
	"array_max_items":                 "maxItems",
	"unique":                          "uniqueItems",
	"contains":                        "contains",
	"array_no_additional_items":       "additionalItems",
	"array_min_properties":            "minProperties",
	"array_max_properties":            "maxProperties",
	"additional_property_not_allowed": "additionalProperties",
	"invalid_property_name":           "propertyNames",
	"invalid_property_pattern":        "patternProperties",
	"missing_dependency":              "dependencies",
	"number_any_of":                   "anyOf",
	"number_one_of":                   "oneOf",
	"number_all_of":                   "allOf",
	"number_not":                      "not",
	"condition_then":                  "then",
	"condition_else":                  "else",
}

func keywordFor(errType string) string {
	if kw, ok := keywords[errType]; ok {
		return kw
	}
	return errType
}
