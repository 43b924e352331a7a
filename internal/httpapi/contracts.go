package httpapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Contracts validates inbound webhook payloads against the embedded
// provider schemas before they reach the correlator.
type Contracts struct {
	telephony *jsonschema.Schema
	convai    *jsonschema.Schema
}

// NewContracts compiles the embedded webhook schemas.
func NewContracts() (*Contracts, error) {
	telephony, err := compileEmbedded("schemas/telephony_webhook.schema.json")
	if err != nil {
		return nil, err
	}
	convai, err := compileEmbedded("schemas/convai_webhook.schema.json")
	if err != nil {
		return nil, err
	}
	return &Contracts{telephony: telephony, convai: convai}, nil
}

// ValidateTelephony checks one telephony webhook payload.
func (c *Contracts) ValidateTelephony(raw []byte) error {
	return validate(c.telephony, raw)
}

// ValidateConvAI checks one conversational-AI webhook payload.
func (c *Contracts) ValidateConvAI(raw []byte) error {
	return validate(c.convai, raw)
}

func compileEmbedded(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return compiled, nil
}

func validate(schema *jsonschema.Schema, raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse webhook payload: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("webhook payload schema violation: %w", err)
	}
	return nil
}
