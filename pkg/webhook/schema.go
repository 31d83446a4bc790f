package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

const payloadSchema = `{
	"type": "object",
	"required": ["object", "entry"],
	"properties": {
		"object": {"type": "string"},
		"entry": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["changes"],
				"properties": {
					"id": {"type": "string"},
					"changes": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["value"],
							"properties": {
								"field": {"type": "string"},
								"value": {
									"type": "object",
									"required": ["metadata"],
									"properties": {
										"metadata": {
											"type": "object",
											"required": ["phone_number_id"],
											"properties": {
												"phone_number_id": {"type": "string", "minLength": 1}
											}
										},
										"messages": {
											"type": "array",
											"items": {
												"type": "object",
												"required": ["id", "from"],
												"properties": {
													"id": {"type": "string", "minLength": 1},
													"from": {"type": "string", "minLength": 1}
												}
											}
										},
										"statuses": {
											"type": "array",
											"items": {
												"type": "object",
												"required": ["id", "status"],
												"properties": {
													"id": {"type": "string", "minLength": 1},
													"status": {"type": "string"}
												}
											}
										}
									}
								}
							}
						}
					}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(payloadSchema)

// Validate checks a raw webhook body against the Cloud API payload schema.
func Validate(body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(errs, "; "))
	}

	return nil
}
