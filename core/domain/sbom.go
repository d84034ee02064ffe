package domain

// CycloneDX constants for documents this pipeline emits.
const (
	CycloneDXFormat      = "CycloneDX"
	CycloneDXSpecVersion = "1.5"
	SerialNumberPrefix   = "urn:uuid:"
)

// SLSA stamping property names carried in document metadata.
const (
	PropertySLSABuildType = "slsa:build_type"
	PropertySLSABuilderID = "slsa:builder_id"
	PropertySLSABuildID   = "slsa:build_id"
	PropertySLSALevel     = "slsa:slsa_level"
	PropertyOversized     = "buildseal:oversized"
)

// SLSA property defaults applied when the build context carries no value.
const (
	DefaultSLSABuildType = "generic"
	DefaultSLSALevel     = "3"
)

// ToolIdentity names the tool that produced a document.
type ToolIdentity struct {
	Vendor  string `json:"vendor"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SBOM is a CycloneDX document with generator metadata. Content stays a
// generic map so unknown fields survive consolidation untouched.
type SBOM struct {
	BuildID          string
	Source           string
	GeneratorName    string
	GeneratorVersion string
	Content          map[string]any
}

// Components returns the component list, tolerating absent or malformed
// entries from foreign generators.
func (s SBOM) Components() []map[string]any {
	raw, ok := s.Content["components"].([]any)
	if !ok {
		return nil
	}
	components := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if c, ok := entry.(map[string]any); ok {
			components = append(components, c)
		}
	}
	return components
}

// ComponentKey is the identity used for first-seen-wins deduplication:
// purl when present, else name, else "unknown". Components that collapse
// to the same key are the same component, whatever else differs.
func ComponentKey(c map[string]any) string {
	if purl, ok := c["purl"].(string); ok && purl != "" {
		return purl
	}
	if name, ok := c["name"].(string); ok && name != "" {
		return name
	}
	return "unknown"
}
