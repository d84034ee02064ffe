package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strings"

	"github.com/aquilax/truncate"
	"github.com/distribution/distribution/reference"

	"github.com/buildseal/buildseal/core/domain"
)

// Label keys attached to built images.
const (
	LabelImageID   = "io.buildseal.image-id"
	LabelImageName = "io.buildseal.image-name"
	LabelImageTag  = "io.buildseal.image-tag"
	LabelBuildID   = "io.buildseal.build-id"
)

func PackageVersion(name string) string {
	bi, ok := debug.ReadBuildInfo()
	if ok {
		for _, dep := range bi.Deps {
			if dep.Path == name {
				return dep.Version
			}
		}
	}
	return "unknown"
}

var offendingChars = regexp.MustCompile("[@:/ ._]")

var dns1123Label = regexp.MustCompile("^[a-z0-9]([-a-z0-9]*[a-z0-9])?$")

func sanitize(s string) string {
	s2 := truncate.Truncate(offendingChars.ReplaceAllString(s, "-"), 63, "", truncate.PositionEnd)
	// remove trailing dash
	if len(s2) > 0 && s2[len(s2)-1] == '-' {
		return s2[:len(s2)-1]
	}
	return s2
}

// LabelsFromImageID returns the image labels derived from an image reference.
// Each value is sanitized down to a valid DNS1123 label; values that still
// do not qualify are pruned.
func LabelsFromImageID(imageID string) map[string]string {
	labels := map[string]string{}
	ref, err := reference.Parse(imageID)
	if err != nil {
		return labels
	}
	if named, ok := ref.(reference.Named); ok {
		labels[LabelImageID] = sanitize(named.String())
		labels[LabelImageName] = sanitize(named.Name())
	}
	if tagged, ok := ref.(reference.Tagged); ok {
		labels[LabelImageTag] = sanitize(tagged.Tag())
	}
	for key, value := range labels {
		if !dns1123Label.MatchString(value) {
			delete(labels, key)
		}
	}
	return labels
}

func FileContent(path string) []byte {
	b, _ := os.ReadFile(path)
	return b
}

// IdentityTokenFromFile loads an OIDC token from disk. The token value stays
// in memory only; callers must never write it back out or log it.
func IdentityTokenFromFile(path string) (domain.IdentityToken, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.IdentityToken{}, fmt.Errorf("reading identity token: %w", err)
	}
	token := domain.NewIdentityToken(strings.TrimSpace(string(b)))
	if token.IsEmpty() {
		return domain.IdentityToken{}, fmt.Errorf("identity token file %s is empty", path)
	}
	return token, nil
}

func DeleteContents(dir string) error {
	d, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, c := range d {
		err := os.RemoveAll(filepath.Join(dir, c.Name()))
		if err != nil {
			return err
		}
	}
	return nil
}

func NormalizeReference(ref string) string {
	n, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ref
	}
	return n.String()
}

var ecosystemMarkers = []struct {
	file      string
	ecosystem string
}{
	{"go.mod", "go"},
	{"package.json", "javascript"},
	{"requirements.txt", "python"},
	{"pom.xml", "java"},
	{"Cargo.toml", "rust"},
	{"Gemfile", "ruby"},
}

// DetectEcosystems reports the package ecosystems present at the root of a
// source tree, in fixed marker order.
func DetectEcosystems(dir string) []string {
	var found []string
	for _, marker := range ecosystemMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker.file)); err == nil {
			found = append(found, marker.ecosystem)
		}
	}
	return found
}
