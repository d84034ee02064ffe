package domain

// OpenVEX constants for documents this pipeline emits.
const (
	OpenVEXContext       = "https://openvex.dev/ns/v0.2.0"
	OpenVEXContextPrefix = "https://openvex.dev/ns"
	OpenVEXDocPrefix     = "https://openvex.dev/docs/"
)

// VEXScope distinguishes the analysis contexts a VEX document covers.
type VEXScope string

const (
	VEXScopeBuild   VEXScope = "build"
	VEXScopeRuntime VEXScope = "runtime"
)

// VEX is an OpenVEX document with generator metadata. Content stays a
// generic map: consolidation unions statements without interpreting them.
type VEX struct {
	BuildID          string
	Scope            VEXScope
	GeneratorName    string
	GeneratorVersion string
	Content          map[string]any
}

// Statements returns the raw statement list in document order.
func (v VEX) Statements() []any {
	raw, ok := v.Content["statements"].([]any)
	if !ok {
		return nil
	}
	return raw
}
