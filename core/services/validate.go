package services

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/buildseal/buildseal/core/domain"
)

// Structural validation for the documents the pipeline persists. Every
// violation is a SchemaError and the caller must not store the document.

// ParseSBOM decodes a raw document and checks it is recognizably CycloneDX.
// Lighter than ValidateCycloneDX on purpose: foreign generators may omit
// optional sections that consolidated output always carries.
func ParseSBOM(buildID, source string, raw []byte) (domain.SBOM, error) {
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return domain.SBOM{}, &domain.SchemaError{Document: "CycloneDX", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	if format, _ := content["bomFormat"].(string); format != domain.CycloneDXFormat {
		return domain.SBOM{}, &domain.SchemaError{Document: "CycloneDX", Reason: fmt.Sprintf("bomFormat %q", format)}
	}
	if spec, _ := content["specVersion"].(string); spec == "" {
		return domain.SBOM{}, &domain.SchemaError{Document: "CycloneDX", Reason: "missing specVersion"}
	}
	return domain.SBOM{BuildID: buildID, Source: source, Content: content}, nil
}

// ParseVEX decodes a raw document and checks it is recognizably OpenVEX.
func ParseVEX(buildID string, raw []byte) (domain.VEX, error) {
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return domain.VEX{}, &domain.SchemaError{Document: "OpenVEX", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	context, _ := content["@context"].(string)
	if !strings.HasPrefix(context, domain.OpenVEXContextPrefix) {
		return domain.VEX{}, &domain.SchemaError{Document: "OpenVEX", Reason: fmt.Sprintf("@context %q", context)}
	}
	return domain.VEX{BuildID: buildID, Content: content}, nil
}

// ValidateCycloneDX checks the envelope of a CycloneDX document.
func ValidateCycloneDX(content map[string]any) error {
	if content == nil {
		return &domain.SchemaError{Document: "CycloneDX", Reason: "empty document"}
	}
	if format, _ := content["bomFormat"].(string); format != domain.CycloneDXFormat {
		return &domain.SchemaError{Document: "CycloneDX", Reason: fmt.Sprintf("bomFormat %q", format)}
	}
	if spec, _ := content["specVersion"].(string); spec == "" {
		return &domain.SchemaError{Document: "CycloneDX", Reason: "missing specVersion"}
	}
	serial, _ := content["serialNumber"].(string)
	if !strings.HasPrefix(serial, domain.SerialNumberPrefix) {
		return &domain.SchemaError{Document: "CycloneDX", Reason: fmt.Sprintf("serialNumber %q lacks %s prefix", serial, domain.SerialNumberPrefix)}
	}
	version, ok := asInt(content["version"])
	if !ok || version < 1 {
		return &domain.SchemaError{Document: "CycloneDX", Reason: "version must be an integer >= 1"}
	}
	components, ok := content["components"].([]any)
	if !ok {
		return &domain.SchemaError{Document: "CycloneDX", Reason: "components list is missing"}
	}
	for i, entry := range components {
		c, ok := entry.(map[string]any)
		if !ok {
			return &domain.SchemaError{Document: "CycloneDX", Reason: fmt.Sprintf("component %d is not an object", i)}
		}
		if name, _ := c["name"].(string); name == "" {
			return &domain.SchemaError{Document: "CycloneDX", Reason: fmt.Sprintf("component %d has no name", i)}
		}
	}
	if metadata, ok := content["metadata"].(map[string]any); ok {
		if ts, ok := metadata["timestamp"].(string); ok {
			if _, err := time.Parse(time.RFC3339, ts); err != nil {
				return &domain.SchemaError{Document: "CycloneDX", Reason: fmt.Sprintf("metadata.timestamp %q is not RFC3339", ts)}
			}
		}
	}
	return nil
}

// ValidateOpenVEX checks the envelope of an OpenVEX document.
func ValidateOpenVEX(content map[string]any) error {
	if content == nil {
		return &domain.SchemaError{Document: "OpenVEX", Reason: "empty document"}
	}
	context, _ := content["@context"].(string)
	if !strings.HasPrefix(context, domain.OpenVEXContextPrefix) {
		return &domain.SchemaError{Document: "OpenVEX", Reason: fmt.Sprintf("@context %q", context)}
	}
	if id, _ := content["@id"].(string); id == "" {
		return &domain.SchemaError{Document: "OpenVEX", Reason: "missing @id"}
	}
	statements, ok := content["statements"].([]any)
	if !ok {
		return &domain.SchemaError{Document: "OpenVEX", Reason: "statements list is missing"}
	}
	for i, entry := range statements {
		s, ok := entry.(map[string]any)
		if !ok {
			return &domain.SchemaError{Document: "OpenVEX", Reason: fmt.Sprintf("statement %d is not an object", i)}
		}
		if status, _ := s["status"].(string); status == "" {
			return &domain.SchemaError{Document: "OpenVEX", Reason: fmt.Sprintf("statement %d has no status", i)}
		}
	}
	return nil
}

// ValidateStatement checks an in-toto statement before it is signed.
func ValidateStatement(st domain.Statement) error {
	if st.Type != domain.StatementType {
		return &domain.SchemaError{Document: "Statement", Reason: fmt.Sprintf("_type %q", st.Type)}
	}
	if len(st.Subject) == 0 {
		return &domain.SchemaError{Document: "Statement", Reason: "no subject"}
	}
	for i, subject := range st.Subject {
		if subject.Name == "" {
			return &domain.SchemaError{Document: "Statement", Reason: fmt.Sprintf("subject %d has no name", i)}
		}
		digest := subject.Digest["sha256"]
		if len(digest) != 64 {
			return &domain.SchemaError{Document: "Statement", Reason: fmt.Sprintf("subject %d digest has wrong length", i)}
		}
		if _, err := hex.DecodeString(digest); err != nil {
			return &domain.SchemaError{Document: "Statement", Reason: fmt.Sprintf("subject %d digest is not hex", i)}
		}
	}
	if st.PredicateType == "" {
		return &domain.SchemaError{Document: "Statement", Reason: "missing predicateType"}
	}
	if len(st.Predicate) == 0 || string(st.Predicate) == "null" {
		return &domain.SchemaError{Document: "Statement", Reason: "missing predicate"}
	}
	return nil
}

// asInt tolerates the numeric types a document may carry depending on
// whether it came from construction or from JSON decoding.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
