package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a definition from YAML. Unknown fields are rejected.
//
//	id: digest
//	mode: dependency
//	steps:
//	  - id: fetch
//	    target: http.get
//	    input: https://example.com
//	  - id: shout
//	    target: upper
//	    input: "{{fetch.output}}"
//	    timeout: 2s
func LoadYAML(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("workflow: decode yaml: empty document")
		}
		return nil, fmt.Errorf("workflow: decode yaml: %w", err)
	}
	return &def, nil
}

// LoadFile reads a YAML definition from path.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	def, err := LoadYAML(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
