package v1

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.opentelemetry.io/otel"

	"github.com/buildseal/buildseal/core/ports"
)

// contentField is the KV field holding the base64-encoded record body.
const contentField = "content"

// VaultAuditStore implements AuditStore from ports on a Vault KV v2 mount.
// Records are immutable from the pipeline's point of view, every Put writes
// a new secret version.
type VaultAuditStore struct {
	client     *vaultapi.Client
	mount      string
	pathPrefix string
}

var _ ports.AuditStore = (*VaultAuditStore)(nil)

// NewVaultAuditStore connects to Vault at the given address. An empty token
// falls back to the VAULT_TOKEN environment variable.
func NewVaultAuditStore(address, token, mount, pathPrefix string) (*VaultAuditStore, error) {
	cfg := vaultapi.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to vault: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	return &VaultAuditStore{
		client:     client,
		mount:      mount,
		pathPrefix: pathPrefix,
	}, nil
}

// Put stores an audit record under the configured prefix.
func (v *VaultAuditStore) Put(ctx context.Context, recordPath string, content []byte) error {
	ctx, span := otel.Tracer("").Start(ctx, "VaultAuditStore.Put")
	defer span.End()

	fullPath := path.Join(v.pathPrefix, recordPath)
	_, err := v.client.KVv2(v.mount).Put(ctx, fullPath, map[string]interface{}{
		contentField: base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return fmt.Errorf("writing audit record %s: %w", fullPath, err)
	}
	logger.L().Debug("stored audit record", helpers.String("path", fullPath))
	return nil
}

// Get reads an audit record back. The latest secret version wins.
func (v *VaultAuditStore) Get(ctx context.Context, recordPath string) ([]byte, error) {
	ctx, span := otel.Tracer("").Start(ctx, "VaultAuditStore.Get")
	defer span.End()

	fullPath := path.Join(v.pathPrefix, recordPath)
	secret, err := v.client.KVv2(v.mount).Get(ctx, fullPath)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return nil, fmt.Errorf("audit record %s not found: %w", recordPath, err)
		}
		return nil, fmt.Errorf("reading audit record %s: %w", fullPath, err)
	}
	encoded, ok := secret.Data[contentField].(string)
	if !ok {
		return nil, fmt.Errorf("audit record %s has no %s field", recordPath, contentField)
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding audit record %s: %w", recordPath, err)
	}
	return content, nil
}
