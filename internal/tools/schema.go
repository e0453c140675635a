package tools

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func jsonschemaReader(raw []byte) io.Reader {
	return bytes.NewReader(raw)
}

// validateJSON decodes raw into a generic document and validates it against
// schema, as required by jsonschema.Schema.Validate.
func validateJSON(schema *jsonschema.Schema, raw json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
