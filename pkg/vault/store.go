package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store errors.
var (
	ErrRecordNotFound = errors.New("credential record not found")
)

// Record is an encrypted credential at rest. Its layout is persisted and
// must remain stable across versions so previously-encrypted records
// remain decryptable.
type Record struct {
	// ID uniquely identifies this record. Rotation supersedes a record
	// with a new id.
	ID string `json:"id"`

	// TenantID is the owning tenant.
	TenantID string `json:"tenant_id"`

	// Ciphertext is the encrypted serialized credential payload.
	Ciphertext []byte `json:"ciphertext"`

	// Algorithm identifies the authenticated-encryption cipher.
	Algorithm string `json:"algorithm"`

	// KDF holds the key-derivation parameters, including the per-record
	// salt.
	KDF KDFParams `json:"kdf"`

	// IV is the per-record initialization vector.
	IV []byte `json:"iv"`

	// Tag is the authentication tag.
	Tag []byte `json:"tag"`

	// Version increases monotonically on rotation.
	Version int `json:"version"`

	// RotationPeriod is the interval between automatic rotations; zero
	// disables them.
	RotationPeriod time.Duration `json:"rotation_period,omitempty"`

	// NextRotation is when the next automatic rotation is due.
	NextRotation time.Time `json:"next_rotation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists credential records behind a narrow interface so a real
// datastore can back it without touching vault logic.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	GetByTenant(ctx context.Context, tenantID string) (*Record, error)
	Put(ctx context.Context, record *Record) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Record, error)
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns the record with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	copied := *record
	return &copied, nil
}

// GetByTenant returns the tenant's current record: the one with the
// highest version.
func (s *MemoryStore) GetByTenant(_ context.Context, tenantID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *Record
	for _, record := range s.records {
		if record.TenantID != tenantID {
			continue
		}
		if current == nil || record.Version > current.Version {
			current = record
		}
	}
	if current == nil {
		return nil, fmt.Errorf("%w: tenant %s", ErrRecordNotFound, tenantID)
	}
	copied := *current
	return &copied, nil
}

// Put stores or replaces a record.
func (s *MemoryStore) Put(_ context.Context, record *Record) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *record
	s.records[record.ID] = &copied
	return nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	delete(s.records, id)
	return nil
}

// List returns all records ordered by tenant then descending version.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		copied := *record
		records = append(records, &copied)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].TenantID != records[j].TenantID {
			return records[i].TenantID < records[j].TenantID
		}
		return records[i].Version > records[j].Version
	})
	return records, nil
}
