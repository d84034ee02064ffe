package v1

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/openvex/go-vex/pkg/vex"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
	"github.com/buildseal/buildseal/internal/tools"
)

// Advisory identifiers for the seeded baseline statements. Real advisories
// replace these once an exploitability review runs against a feed.
const (
	baselineAdvisory = "BUILDSEAL-BASELINE"
	runtimeAdvisory  = "BUILDSEAL-RUNTIME-CONTEXT"
)

// OpenVEXGenerator implements VEXProvider from ports using the go-vex API.
// It seeds per-scope placeholder documents; the consolidation step unions
// them with any externally supplied statements.
type OpenVEXGenerator struct {
	author string
}

var _ ports.VEXProvider = (*OpenVEXGenerator)(nil)

// NewOpenVEXGenerator initializes the OpenVEXGenerator struct
func NewOpenVEXGenerator(author string) *OpenVEXGenerator {
	if author == "" {
		author = "buildseal"
	}
	return &OpenVEXGenerator{author: author}
}

// Generate emits the baseline OpenVEX document for one analysis scope. The
// product is the digest-qualified image purl so statements stay pinned to
// the exact build under review.
func (o *OpenVEXGenerator) Generate(ctx context.Context, bc *domain.BuildContext, scope domain.VEXScope) (domain.VEX, error) {
	ctx, span := otel.Tracer("").Start(ctx, "OpenVEXGenerator.Generate")
	defer span.End()

	doc := vex.New()
	doc.ID = fmt.Sprintf("%sbuildseal-%s-%s", domain.OpenVEXDocPrefix, scope, bc.BuildID)
	doc.Author = o.author
	doc.Tooling = "buildseal " + o.Version()

	product := vex.Product{Component: vex.Component{ID: bc.PURL()}}
	doc.Statements = append(doc.Statements, vex.Statement{
		Vulnerability: vex.Vulnerability{
			Name:        baselineAdvisory,
			Description: fmt.Sprintf("advisory feed baseline for the %s scope", scope),
		},
		Products:      []vex.Product{product},
		Status:        vex.StatusNotAffected,
		Justification: vex.ComponentNotPresent,
	})
	if scope == domain.VEXScopeRuntime {
		doc.Statements = append(doc.Statements, vex.Statement{
			Vulnerability: vex.Vulnerability{
				Name:        runtimeAdvisory,
				Description: "runtime context review of flagged components",
			},
			Products:        []vex.Product{product},
			Status:          vex.StatusNotAffected,
			Justification:   vex.VulnerableCodeNotInExecutePath,
			ImpactStatement: "no runtime code path loads the flagged components",
		})
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.VEX{}, err
	}
	var content map[string]any
	if err := json.Unmarshal(raw, &content); err != nil {
		return domain.VEX{}, err
	}
	logger.L().Debug("generated VEX document",
		helpers.String("buildID", bc.BuildID),
		helpers.String("scope", string(scope)),
		helpers.Int("statements", len(doc.Statements)))
	return domain.VEX{
		BuildID:          bc.BuildID,
		Scope:            scope,
		GeneratorName:    "go-vex",
		GeneratorVersion: o.Version(),
		Content:          content,
	}, nil
}

// Version returns go-vex's version which is used to tag VEX documents
func (o *OpenVEXGenerator) Version() string {
	return tools.PackageVersion("github.com/openvex/go-vex")
}
