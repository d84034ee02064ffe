package v1

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/internal/tools"
)

func TestSummarizeBundle(t *testing.T) {
	bundleJSON := tools.FileContent(filepath.Join("testdata", "bundle.json"))
	tools.EnsureSetup(t, len(bundleJSON) > 0)

	summary, err := summarizeBundle(bundleJSON)
	require.NoError(t, err)
	assert.Equal(t, int64(132406406), summary.logIndex)
	assert.Equal(t, "https://oauth2.sigstore.dev/auth", summary.issuer)
	assert.Equal(t, "pipeline@buildseal.dev", summary.san)
}

func TestSummarizeBundle_CertificateChain(t *testing.T) {
	bundleJSON := tools.FileContent(filepath.Join("testdata", "bundle.json"))
	tools.EnsureSetup(t, len(bundleJSON) > 0)
	var doc map[string]any
	tools.EnsureSetup(t, json.Unmarshal(bundleJSON, &doc) == nil)
	vm, ok := doc["verificationMaterial"].(map[string]any)
	tools.EnsureSetup(t, ok)
	// older bundles carry the leaf inside a chain instead of a bare certificate
	vm["x509CertificateChain"] = map[string]any{"certificates": []any{vm["certificate"]}}
	delete(vm, "certificate")

	summary, err := summarizeBundle(tools.MustMarshal(t, doc))
	require.NoError(t, err)
	assert.Equal(t, "https://oauth2.sigstore.dev/auth", summary.issuer)
	assert.Equal(t, "pipeline@buildseal.dev", summary.san)
}

func TestSummarizeBundle_NoCertificate(t *testing.T) {
	bundleJSON := `{"mediaType":"application/vnd.dev.sigstore.bundle.v0.3+json","verificationMaterial":{"tlogEntries":[{"logIndex":"7"}]}}`
	summary, err := summarizeBundle([]byte(bundleJSON))
	require.NoError(t, err)
	assert.Equal(t, int64(7), summary.logIndex)
	assert.Empty(t, summary.issuer)
	assert.Empty(t, summary.san)
}

func TestSummarizeBundle_Errors(t *testing.T) {
	tests := []struct {
		name       string
		bundleJSON string
	}{
		{
			name:       "malformed json",
			bundleJSON: `{"mediaType":`,
		},
		{
			name:       "no verification material",
			bundleJSON: `{"mediaType":"application/vnd.dev.sigstore.bundle.v0.3+json"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := summarizeBundle([]byte(tt.bundleJSON))
			assert.Error(t, err)
		})
	}
}

func Test_certIssuer(t *testing.T) {
	derIssuer, err := asn1.MarshalWithParams("https://token.actions.githubusercontent.com", "utf8")
	tools.EnsureSetup(t, err == nil)
	tests := []struct {
		name string
		exts []pkix.Extension
		want string
	}{
		{
			name: "v1 raw string",
			exts: []pkix.Extension{{Id: oidIssuerV1, Value: []byte("https://oauth2.sigstore.dev/auth")}},
			want: "https://oauth2.sigstore.dev/auth",
		},
		{
			name: "v2 der encoded",
			exts: []pkix.Extension{{Id: oidIssuerV2, Value: derIssuer}},
			want: "https://token.actions.githubusercontent.com",
		},
		{
			name: "v2 wins over v1",
			exts: []pkix.Extension{
				{Id: oidIssuerV1, Value: []byte("https://legacy.example.com")},
				{Id: oidIssuerV2, Value: derIssuer},
			},
			want: "https://token.actions.githubusercontent.com",
		},
		{
			name: "no issuer extension",
			exts: []pkix.Extension{{Id: asn1.ObjectIdentifier{2, 5, 29, 19}, Value: []byte{0x30, 0x00}}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := certIssuer(&x509.Certificate{Extensions: tt.exts})
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_certSAN(t *testing.T) {
	workflow, err := url.Parse("https://github.com/buildseal/buildseal/.github/workflows/release.yml@refs/tags/v1.2.0")
	tools.EnsureSetup(t, err == nil)
	tests := []struct {
		name string
		cert *x509.Certificate
		want string
	}{
		{
			name: "email identity",
			cert: &x509.Certificate{EmailAddresses: []string{"pipeline@buildseal.dev"}},
			want: "pipeline@buildseal.dev",
		},
		{
			name: "workflow uri identity",
			cert: &x509.Certificate{URIs: []*url.URL{workflow}},
			want: workflow.String(),
		},
		{
			name: "email wins when both are present",
			cert: &x509.Certificate{
				EmailAddresses: []string{"pipeline@buildseal.dev"},
				URIs:           []*url.URL{workflow},
			},
			want: "pipeline@buildseal.dev",
		},
		{
			name: "no identity",
			cert: &x509.Certificate{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, certSAN(tt.cert))
		})
	}
}

func TestSigstoreAdapter_SignRequiresToken(t *testing.T) {
	a := NewSigstoreAdapter("https://fulcio.sigstore.dev", "https://rekor.sigstore.dev", time.Second)

	_, err := a.SignBlob(context.TODO(), []byte("payload"), domain.IdentityToken{})
	var signingErr *domain.SigningError
	require.ErrorAs(t, err, &signingErr)
	assert.Equal(t, "sign-blob", signingErr.Op)

	_, err = a.SignStatement(context.TODO(), []byte("{}"), domain.IdentityToken{})
	require.ErrorAs(t, err, &signingErr)
	assert.Equal(t, "sign-statement", signingErr.Op)
}

func TestSigstoreAdapter_VerifyDigestRejectsMalformedDigest(t *testing.T) {
	a := NewSigstoreAdapter("https://fulcio.sigstore.dev", "https://rekor.sigstore.dev", time.Second)
	tests := []struct {
		name    string
		digest  string
		wantErr string
	}{
		{
			name:    "tag instead of digest",
			digest:  "registry.local/app:latest",
			wantErr: "not sha256-prefixed",
		},
		{
			name:    "truncated digest",
			digest:  "sha256:24ed95caeb02",
			wantErr: "wrong length",
		},
		{
			name:    "non-hex digest",
			digest:  "sha256:" + strings.Repeat("z", 64),
			wantErr: "invalid byte",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.VerifyDigest(context.TODO(), []byte("{}"), tt.digest, "")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSigstoreAdapter_VerifyArtifactRejectsMalformedBundle(t *testing.T) {
	a := NewSigstoreAdapter("https://fulcio.sigstore.dev", "https://rekor.sigstore.dev", time.Second)
	err := a.VerifyArtifact(context.TODO(), []byte("not a bundle"), []byte("artifact"), "")
	assert.ErrorContains(t, err, "parse bundle")
}
