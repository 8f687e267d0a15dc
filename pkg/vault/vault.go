// Package vault encrypts, decrypts, and rotates each tenant's downstream
// credentials at rest. Every record is sealed with AES-256-GCM under a
// key derived from the master key and a fresh per-record salt; every
// mutating operation emits an audit record. Plaintext credentials are
// never logged.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolgate/pkg/audit"
	gateerrors "github.com/stacklok/toolgate/pkg/errors"
)

// Credential is the plaintext payload a tenant uses to reach the
// downstream API. It is serialized before encryption.
type Credential struct {
	// Kind names the credential type (api_key, basic, oauth_client).
	Kind string `json:"kind"`

	// Values holds the secret material.
	Values map[string]string `json:"values"`
}

// Config configures a Vault.
type Config struct {
	// MasterKey is the key-derivation input. Required; its absence is
	// startup-fatal.
	MasterKey []byte

	// KDFIterations overrides the PBKDF2 iteration count for new records.
	// Stored per record, so changing it never breaks old records.
	KDFIterations int
}

// Vault manages encrypted credential records.
type Vault struct {
	master     []byte
	iterations int
	store      Store
	audit      audit.Logger
}

// New creates a Vault. A missing master key is a configuration error.
func New(config Config, store Store, auditLogger audit.Logger) (*Vault, error) {
	if len(config.MasterKey) == 0 {
		return nil, gateerrors.NewConfigError("vault master key is required", nil)
	}
	if store == nil {
		return nil, gateerrors.NewConfigError("vault store is required", nil)
	}
	if auditLogger == nil {
		return nil, gateerrors.NewConfigError("vault audit logger is required", nil)
	}

	iterations := config.KDFIterations
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}

	return &Vault{
		master:     config.MasterKey,
		iterations: iterations,
		store:      store,
		audit:      auditLogger,
	}, nil
}

// Encrypt seals a credential for a tenant as a version-1 record. A
// non-zero rotationPeriod arms automatic rotation.
func (v *Vault) Encrypt(ctx context.Context, tenantID string, credential *Credential, rotationPeriod time.Duration, actor string) (*Record, error) {
	record, err := v.encryptRecord(ctx, tenantID, credential, 1, rotationPeriod)
	v.auditResult(actor, tenantID, "credential.encrypt", recordID(record), err)
	return record, err
}

// Decrypt opens the record and returns the credential. Tampering with the
// ciphertext or tag surfaces as a cryptographic failure; altered
// plaintext is never returned.
func (v *Vault) Decrypt(ctx context.Context, id, actor string) (*Credential, error) {
	record, err := v.store.Get(ctx, id)
	if err != nil {
		v.auditResult(actor, "", "credential.decrypt", id, err)
		if errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load credential record: %w", err)
	}

	credential, err := v.openRecord(record)
	v.auditResult(actor, record.TenantID, "credential.decrypt", id, err)
	return credential, err
}

// Rotate seals a new credential as the record's successor: same tenant,
// version incremented by one. The new record is durably written before
// the old one is deleted, so an in-flight decrypt against the previous
// version can still complete.
func (v *Vault) Rotate(ctx context.Context, id string, credential *Credential, actor string) (*Record, error) {
	record, err := v.rotate(ctx, id, credential)
	tenant := ""
	if record != nil {
		tenant = record.TenantID
	}
	v.auditResult(actor, tenant, "credential.rotate", id, err)
	return record, err
}

func (v *Vault) rotate(ctx context.Context, id string, credential *Credential) (*Record, error) {
	previous, err := v.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := v.encryptRecord(ctx, previous.TenantID, credential, previous.Version+1, previous.RotationPeriod)
	if err != nil {
		return nil, err
	}

	// Never delete-then-create: the old record stays valid until the new
	// one is durably written.
	if err := v.store.Delete(ctx, previous.ID); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return next, fmt.Errorf("failed to delete superseded record: %w", err)
	}

	return next, nil
}

func (v *Vault) encryptRecord(ctx context.Context, tenantID string, credential *Credential, version int, rotationPeriod time.Duration) (*Record, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if credential == nil {
		return nil, errors.New("credential is required")
	}

	plaintext, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize credential: %w", err)
	}

	ciphertext, nonce, tag, params, err := seal(v.master, plaintext, v.iterations)
	if err != nil {
		return nil, gateerrors.NewCryptoFailureError("failed to encrypt credential", err)
	}

	now := time.Now()
	record := &Record{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Ciphertext:     ciphertext,
		Algorithm:      AlgorithmAESGCM,
		KDF:            params,
		IV:             nonce,
		Tag:            tag,
		Version:        version,
		RotationPeriod: rotationPeriod,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rotationPeriod > 0 {
		record.NextRotation = now.Add(rotationPeriod)
	}

	if err := v.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist credential record: %w", err)
	}

	return record, nil
}

func (v *Vault) openRecord(record *Record) (*Credential, error) {
	if record.Algorithm != AlgorithmAESGCM {
		return nil, gateerrors.NewCryptoFailureError(
			fmt.Sprintf("unsupported algorithm %q", record.Algorithm), nil)
	}

	plaintext, err := open(v.master, record.Ciphertext, record.IV, record.Tag, record.KDF)
	if err != nil {
		return nil, gateerrors.NewCryptoFailureError("credential decryption failed", err)
	}

	var credential Credential
	if err := json.Unmarshal(plaintext, &credential); err != nil {
		return nil, gateerrors.NewCryptoFailureError("credential payload is malformed", err)
	}
	return &credential, nil
}

// auditResult writes one audit record for a vault operation. Failure
// details carry error text only, never payloads.
func (v *Vault) auditResult(actor, tenant, action, resource string, err error) {
	record := audit.Record{
		Actor:     actor,
		Tenant:    tenant,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now(),
		Success:   err == nil,
	}
	if err != nil {
		record.Error = err.Error()
	}
	v.audit.Log(record)
}

func recordID(record *Record) string {
	if record == nil {
		return ""
	}
	return record.ID
}
