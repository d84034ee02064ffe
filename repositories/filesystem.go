package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
)

// storeFormatVersion pins the on-disk layout. Opening a store written by a
// different major version fails, so layout changes need a migration.
const storeFormatVersion = "1.0.0"

const (
	versionFile     = "VERSION"
	attestationsDir = "attestations"
)

// FilesystemStore persists artifacts under <root>/<buildID>/<filename> and
// attestation records under <root>/attestations/<subject hex>/. Writes go
// through a temporary file and a rename, so readers never observe a partial
// document and contents survive process restarts.
type FilesystemStore struct {
	root string
}

var _ ports.ArtifactRepository = (*FilesystemStore)(nil)

var _ ports.AttestationRepository = (*FilesystemStore)(nil)

// NewFilesystemStorage initializes the FilesystemStore at root, creating the
// directory if needed and checking the store format version.
func NewFilesystemStorage(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	s := &FilesystemStore{root: root}
	if err := s.checkFormatVersion(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FilesystemStore) checkFormatVersion() error {
	path := filepath.Join(s.root, versionFile)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return atomicWrite(path, []byte(storeFormatVersion))
	}
	if err != nil {
		return err
	}
	found, err := semver.NewVersion(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid store version %q: %w", strings.TrimSpace(string(b)), err)
	}
	supported := semver.MustParse(storeFormatVersion)
	if found.Major() != supported.Major() {
		return fmt.Errorf("store format %s is incompatible with %s", found, supported)
	}
	return nil
}

// atomicWrite writes content to a temporary file in the target directory and
// renames it into place.
func atomicWrite(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FilesystemStore) artifactPath(buildID string, kind domain.ArtifactKind) string {
	return filepath.Join(s.root, buildID, kind.Filename())
}

// GetArtifact reads an artifact document from disk
func (s *FilesystemStore) GetArtifact(ctx context.Context, buildID string, kind domain.ArtifactKind) ([]byte, error) {
	_, span := otel.Tracer("").Start(ctx, "FilesystemStore.GetArtifact")
	defer span.End()

	content, err := os.ReadFile(s.artifactPath(buildID, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, buildID, kind)
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// ListArtifacts enumerates stored artifacts for a build in kind declaration
// order, rebuilding refs from directory contents
func (s *FilesystemStore) ListArtifacts(ctx context.Context, buildID string) ([]domain.ArtifactRef, error) {
	_, span := otel.Tracer("").Start(ctx, "FilesystemStore.ListArtifacts")
	defer span.End()

	var refs []domain.ArtifactRef
	for _, kind := range domain.ArtifactKinds() {
		ref, err := s.refFor(buildID, kind)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *FilesystemStore) refFor(buildID string, kind domain.ArtifactKind) (domain.ArtifactRef, error) {
	path := s.artifactPath(buildID, kind)
	info, err := os.Stat(path)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	return domain.ArtifactRef{
		BuildID:  buildID,
		Kind:     kind,
		Checksum: Checksum(content),
		Size:     len(content),
		Path:     path,
		StoredAt: info.ModTime().UTC(),
	}, nil
}

// StoreArtifact writes an artifact document to disk, last write wins
func (s *FilesystemStore) StoreArtifact(ctx context.Context, buildID string, kind domain.ArtifactKind, content []byte) (domain.ArtifactRef, error) {
	_, span := otel.Tracer("").Start(ctx, "FilesystemStore.StoreArtifact")
	defer span.End()

	if buildID == "" {
		return domain.ArtifactRef{}, fmt.Errorf("buildID is required")
	}
	if !kind.Valid() {
		return domain.ArtifactRef{}, fmt.Errorf("unknown artifact kind %q", kind)
	}
	dir := filepath.Join(s.root, buildID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.ArtifactRef{}, err
	}
	path := filepath.Join(dir, kind.Filename())
	if err := atomicWrite(path, content); err != nil {
		return domain.ArtifactRef{}, err
	}
	return s.refFor(buildID, kind)
}

func (s *FilesystemStore) attestationPath(subject string, predicateType domain.PredicateType) (string, error) {
	hexPart, err := domain.SHA256Hex(subject)
	if err != nil {
		return "", fmt.Errorf("attestation subject must be a sha256 digest: %w", err)
	}
	return filepath.Join(s.root, attestationsDir, hexPart, string(predicateType)+".json"), nil
}

// GetAttestation reads an attestation record from disk
func (s *FilesystemStore) GetAttestation(ctx context.Context, subject string, predicateType domain.PredicateType) (domain.AttestationRecord, error) {
	_, span := otel.Tracer("").Start(ctx, "FilesystemStore.GetAttestation")
	defer span.End()

	path, err := s.attestationPath(subject, predicateType)
	if err != nil {
		return domain.AttestationRecord{}, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.AttestationRecord{}, fmt.Errorf("%w: %s/%s", domain.ErrAttestationNotFound, subject, predicateType)
	}
	if err != nil {
		return domain.AttestationRecord{}, err
	}
	var record domain.AttestationRecord
	if err := json.Unmarshal(b, &record); err != nil {
		return domain.AttestationRecord{}, fmt.Errorf("corrupted attestation record %s: %w", path, err)
	}
	return record, nil
}

// ListAttestations enumerates records for a subject in fixed predicate order
func (s *FilesystemStore) ListAttestations(ctx context.Context, subject string) ([]domain.AttestationRecord, error) {
	_, span := otel.Tracer("").Start(ctx, "FilesystemStore.ListAttestations")
	defer span.End()

	var records []domain.AttestationRecord
	for _, predicateType := range predicateOrder {
		record, err := s.GetAttestation(ctx, subject, predicateType)
		if errors.Is(err, domain.ErrAttestationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// StoreAttestation writes an attestation record to disk, last write wins
func (s *FilesystemStore) StoreAttestation(ctx context.Context, record domain.AttestationRecord) error {
	_, span := otel.Tracer("").Start(ctx, "FilesystemStore.StoreAttestation")
	defer span.End()

	if record.Subject == "" || record.PredicateType == "" {
		return fmt.Errorf("attestation record needs subject and predicateType")
	}
	path, err := s.attestationPath(record.Subject, record.PredicateType)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return atomicWrite(path, b)
}
