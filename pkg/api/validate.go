package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request payload schemas, compiled once at startup. Validation runs before
// any handler logic so malformed payloads never reach the domain layer.
var (
	recordEventSchema = mustCompile("record_event", `{
		"type": "object",
		"required": ["tenant_id", "entry_type"],
		"properties": {
			"tenant_id": {"type": "string", "minLength": 1},
			"entry_type": {"type": "string", "enum": ["FORMAL_AUDIT", "PROMOTION", "APPROVAL", "ESCALATION", "OVERRIDE"]},
			"payload": {"type": "object"},
			"signature": {"type": "string"},
			"transition": {
				"type": "object",
				"required": ["from", "to"],
				"properties": {
					"from": {"type": "string"},
					"to": {"type": "string"}
				}
			}
		},
		"additionalProperties": false
	}`)

	incidentIntakeSchema = mustCompile("incident_intake", `{
		"type": "object",
		"required": ["org_id", "citizen_email", "description"],
		"properties": {
			"org_id": {"type": "string", "minLength": 1},
			"citizen_email": {"type": "string", "format": "email", "minLength": 3},
			"system_name": {"type": "string"},
			"description": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	decisionLogSchema = mustCompile("decision_log", `{
		"type": "object",
		"required": ["org_id", "system_name", "outcome", "kind"],
		"properties": {
			"org_id": {"type": "string", "minLength": 1},
			"system_name": {"type": "string", "minLength": 1},
			"input_params": {"type": "object"},
			"outcome": {"type": "string", "minLength": 1},
			"explanation": {"type": "string"},
			"kind": {"type": "string", "enum": ["SANDBOX", "FORMAL"]}
		},
		"additionalProperties": false
	}`)

	createOrgSchema = mustCompile("create_org", `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"tier": {"type": "string", "enum": ["TIER_1", "TIER_2", "TIER_3"]},
			"contact_email": {"type": "string"}
		},
		"additionalProperties": false
	}`)

	overrideSchema = mustCompile("override", `{
		"type": "object",
		"required": ["reason"],
		"properties": {
			"reason": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://api.aicpulse.io/schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("api schema %s load failed: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("api schema %s compile failed: %v", name, err))
	}
	return compiled
}

// validatePayload checks a decoded body against a compiled schema and returns
// a client-facing description of the first violation.
func validatePayload(schema *jsonschema.Schema, body map[string]any) error {
	if err := schema.Validate(body); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return fmt.Errorf("payload validation failed: %s", ve.Causes[0].Message)
		}
		return fmt.Errorf("payload validation failed: %v", err)
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok || len(ve.Causes) == 0 {
		return false
	}
	*target = ve
	return true
}
