// Package schema validates broker payloads against JSON Schema before they are decoded.
//
// Validation runs on the raw bytes so a missing required field is rejected
// instead of being filled with a zero value by encoding/json.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"txn-saga/src/contracts"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	// ErrMalformed marks a payload that is not JSON at all.
	ErrMalformed = errors.New("malformed payload")
	// ErrInvalid marks a JSON payload that does not satisfy its schema.
	ErrInvalid = errors.New("payload failed schema validation")
)

const (
	commandURI  = "urn:txn-saga:schema:command"
	envelopeURI = "urn:txn-saga:schema:event-envelope"
)

// Validator holds the compiled schemas. It is safe for concurrent use.
type Validator struct {
	command  *jschema.Schema
	envelope *jschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jschema.NewCompiler()

	command, err := compile(c, "schemas/command.schema.json", commandURI)
	if err != nil {
		return nil, err
	}
	envelope, err := compile(c, "schemas/envelope.schema.json", envelopeURI)
	if err != nil {
		return nil, err
	}

	return &Validator{command: command, envelope: envelope}, nil
}

// MustNewValidator is like NewValidator but panics on error.
// The schemas are embedded, so an error here is a build defect.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

func compile(c *jschema.Compiler, path, uri string) (*jschema.Schema, error) {
	raw, err := schemaFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %s: %w", path, err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema: parsing %s: %w", path, err)
	}
	if err := c.AddResource(uri, doc); err != nil {
		return nil, fmt.Errorf("schema: adding resource %s: %w", uri, err)
	}
	compiled, err := c.Compile(uri)
	if err != nil {
		return nil, fmt.Errorf("schema: compiling %s: %w", uri, err)
	}
	return compiled, nil
}

// DecodeCommand validates raw against the command schema and decodes it.
func (v *Validator) DecodeCommand(raw []byte) (contracts.Command, error) {
	var cmd contracts.Command
	if err := validate(v.command, raw); err != nil {
		return cmd, err
	}
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cmd, nil
}

// DecodeEnvelope validates raw against the event envelope schema and decodes it.
func (v *Validator) DecodeEnvelope(raw []byte) (contracts.EventEnvelope, error) {
	var env contracts.EventEnvelope
	if err := validate(v.envelope, raw); err != nil {
		return env, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return env, nil
}

func validate(s *jschema.Schema, raw []byte) error {
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
