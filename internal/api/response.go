package api

import (
	"encoding/json"
	"fmt"
)

// Response is the success outcome of a Transport call. For JSON responses
// Data holds the parsed document; for anything else Data is nil and Raw holds
// the body unchanged.
type Response struct {
	StatusCode  int
	ContentType string
	Data        any
	Raw         []byte
}

// IsJSON reports whether the response carried structured data.
func (r *Response) IsJSON() bool {
	return isJSON(r.ContentType)
}

// Decode unmarshals a JSON response into v.
func (r *Response) Decode(v any) error {
	if !r.IsJSON() {
		return fmt.Errorf("response is %q, not JSON", r.ContentType)
	}
	if len(r.Raw) == 0 {
		return fmt.Errorf("response body is empty")
	}
	return json.Unmarshal(r.Raw, v)
}
