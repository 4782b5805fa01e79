package scripthook

import (
	"encoding/json"
	"sync"

	"github.com/wesleyorama2/wrkgo/pkg/jsonpath"
	"github.com/wesleyorama2/wrkgo/pkg/jsonschema"
)

// JSONExtractHook decorates a Hook's Response callback with a gjson-backed
// field extraction, supplementing the distilled spec's bare hook contract
// with the value-extraction capability the original's scripting layer
// provided (see SPEC_FULL.md's internal/scripthook section). Extracted
// values are held for the caller to read back with Extracted after the
// run.
type JSONExtractHook struct {
	Hook
	Path string

	mu        sync.Mutex
	extracted []string
	errors    int64
}

// NewJSONExtractHook wraps inner, pulling path out of every JSON response
// body it sees.
func NewJSONExtractHook(inner Hook, path string) *JSONExtractHook {
	return &JSONExtractHook{Hook: inner, Path: path}
}

func (h *JSONExtractHook) WantResponse() bool { return true }

func (h *JSONExtractHook) Response(status int, headers map[string]string, body []byte) {
	if v, err := jsonpath.Extract(string(body), h.Path); err == nil {
		h.mu.Lock()
		h.extracted = append(h.extracted, v)
		h.mu.Unlock()
	} else {
		h.mu.Lock()
		h.errors++
		h.mu.Unlock()
	}
	h.Hook.Response(status, headers, body)
}

// Extracted returns every value successfully pulled out of a response
// body so far.
func (h *JSONExtractHook) Extracted() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.extracted))
	copy(out, h.extracted)
	return out
}

// SchemaValidateHook decorates a Hook's Response callback with a
// jsonschema/v5-backed body validator. A response body that is not valid
// JSON or fails validation is counted in this hook's own failure counter
// (see Failures); it is not added to the worker's status error count.
type SchemaValidateHook struct {
	Hook
	Schema string

	mu       sync.Mutex
	failures int64
}

// NewSchemaValidateHook wraps inner, validating every JSON response body
// against schema.
func NewSchemaValidateHook(inner Hook, schema string) *SchemaValidateHook {
	return &SchemaValidateHook{Hook: inner, Schema: schema}
}

func (h *SchemaValidateHook) WantResponse() bool { return true }

func (h *SchemaValidateHook) Response(status int, headers map[string]string, body []byte) {
	if !json.Valid(body) {
		h.mu.Lock()
		h.failures++
		h.mu.Unlock()
	} else if ok, _ := jsonschema.ValidateWithErrors(string(body), h.Schema); !ok {
		h.mu.Lock()
		h.failures++
		h.mu.Unlock()
	}
	h.Hook.Response(status, headers, body)
}

// Failures returns the number of responses that failed schema validation.
func (h *SchemaValidateHook) Failures() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}
