package verify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atmx/score-verifier/internal/model"
)

// MaxPayloadBytes bounds the size of a submission body.
const MaxPayloadBytes = 2 << 20

// Length and ordering limits depend on configuration and are checked in
// Verify, not here.
const submissionSchema = `{
  "type": "object",
  "required": ["seasonId", "tradeLog", "engineVersion", "claimedScore", "claimedProfitRate"],
  "properties": {
    "seasonId": {"type": "string", "minLength": 1, "maxLength": 128},
    "engineVersion": {"type": "string", "minLength": 1, "maxLength": 32},
    "logicHash": {"type": "string", "pattern": "^([0-9a-f]{64})?$"},
    "claimedScore": {"type": ["string", "number"]},
    "claimedProfitRate": {"type": ["string", "number"]},
    "drawCount": {"type": "integer", "minimum": 0},
    "tradeLog": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["tick", "type", "instrumentId", "quantity"],
        "additionalProperties": false,
        "properties": {
          "tick": {"type": "integer", "minimum": 0, "maximum": 4294967295},
          "type": {"type": "string", "enum": ["buy", "sell", "short", "cover"]},
          "instrumentId": {"type": "integer", "minimum": 0, "maximum": 4294967295},
          "quantity": {"type": "integer", "minimum": 1, "maximum": 1000000000},
          "limitPrice": {"type": ["string", "number"]}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource("submission.json", bytes.NewReader([]byte(submissionSchema))); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("submission.json")
	})
	return compiledSchema, schemaErr
}

// DecodeSubmission reads, schema-checks and decodes a submission body.
// Every failure is a VALIDATION_ERROR except a broken schema, which is
// internal.
func DecodeSubmission(r io.Reader) (model.Submission, error) {
	var sub model.Submission

	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes+1))
	if err != nil {
		return sub, newError(CodeValidation, "unreadable request body", err)
	}
	if len(data) > MaxPayloadBytes {
		return sub, newError(CodeValidation, "request body too large", nil)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return sub, newError(CodeValidation, "invalid JSON", err)
	}

	sch, err := schema()
	if err != nil {
		return sub, newError(CodeInternal, "submission schema", err)
	}
	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return sub, newError(CodeValidation, describe(ve), nil)
		}
		return sub, newError(CodeValidation, "payload failed validation", err)
	}

	if err := json.Unmarshal(data, &sub); err != nil {
		return sub, newError(CodeValidation, "invalid submission", err)
	}
	return sub, nil
}

// describe returns the most specific cause of a schema failure.
func describe(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("field '%s': %s", loc, ve.Message)
}
