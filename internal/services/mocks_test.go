package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kestrelpay/onboard-auth/internal/models"
)

// In-memory fakes for the repository interfaces. They hold just enough
// behavior to exercise the service logic, including the conditional
// backup-code consume.

type memAttemptStore struct {
	mu      sync.Mutex
	records map[string]*models.LoginAttemptRecord
}

func newMemAttemptStore() *memAttemptStore {
	return &memAttemptStore{records: make(map[string]*models.LoginAttemptRecord)}
}

func attemptMapKey(email, origin string) string {
	return strings.ToLower(email) + "|" + origin
}

func (s *memAttemptStore) Get(ctx context.Context, email, origin string) (*models.LoginAttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[attemptMapKey(email, origin)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *memAttemptStore) Increment(ctx context.Context, email, origin string, identityID *string, at time.Time) (*models.LoginAttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := attemptMapKey(email, origin)
	record, ok := s.records[key]
	if !ok {
		record = &models.LoginAttemptRecord{Email: strings.ToLower(email), Origin: origin}
		s.records[key] = record
	}
	record.AttemptCount++
	record.LastAttemptAt = at
	if identityID != nil {
		record.IdentityID = identityID
	}

	copied := *record
	return &copied, nil
}

func (s *memAttemptStore) SetLockout(ctx context.Context, email, origin string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[attemptMapKey(email, origin)]; ok {
		record.LockedUntil = &until
	}
	return nil
}

func (s *memAttemptStore) Delete(ctx context.Context, email, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, attemptMapKey(email, origin))
	return nil
}

func (s *memAttemptStore) DeleteExpired(ctx context.Context, lastAttemptBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, record := range s.records {
		if record.LastAttemptAt.Before(lastAttemptBefore) && !record.Locked(time.Now()) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

type memIdentityStore struct {
	mu         sync.Mutex
	byID       map[string]*models.Identity
	byEmail    map[string]*models.Identity
	nextIDFunc func() string
}

func newMemIdentityStore() *memIdentityStore {
	n := 0
	return &memIdentityStore{
		byID:    make(map[string]*models.Identity),
		byEmail: make(map[string]*models.Identity),
		nextIDFunc: func() string {
			n++
			return fmt.Sprintf("identity-%d", n)
		},
	}
}

func (s *memIdentityStore) add(identity *models.Identity) *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity.Email = strings.ToLower(identity.Email)
	s.byID[identity.ID] = identity
	s.byEmail[identity.Email] = identity
	return identity
}

func (s *memIdentityStore) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *memIdentityStore) GetByEmail(ctx context.Context, email string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *memIdentityStore) Create(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	s.mu.Lock()

	if _, exists := s.byEmail[strings.ToLower(identity.Email)]; exists {
		s.mu.Unlock()
		return nil, models.ErrConflict
	}
	identity.ID = s.nextIDFunc()
	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	s.mu.Unlock()

	return s.add(identity), nil
}

func (s *memIdentityStore) SetMFASetupRequired(ctx context.Context, id string, required bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	identity.MFASetupRequired = required
	return nil
}

type memTOTPStore struct {
	mu          sync.Mutex
	credentials map[string]*models.TOTPCredential
	backupCodes map[string][]*models.BackupCode // keyed by identity ID
}

func newMemTOTPStore() *memTOTPStore {
	return &memTOTPStore{
		credentials: make(map[string]*models.TOTPCredential),
		backupCodes: make(map[string][]*models.BackupCode),
	}
}

func (s *memTOTPStore) Create(ctx context.Context, cred *models.TOTPCredential, backupCodes []models.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.credentials[cred.IdentityID]; exists {
		return models.ErrConflict
	}
	copied := *cred
	s.credentials[cred.IdentityID] = &copied

	codes := make([]*models.BackupCode, len(backupCodes))
	for i := range backupCodes {
		c := backupCodes[i]
		codes[i] = &c
	}
	s.backupCodes[cred.IdentityID] = codes
	return nil
}

func (s *memTOTPStore) GetByIdentityID(ctx context.Context, identityID string) (*models.TOTPCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[identityID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func (s *memTOTPStore) UpdateLastUsedAt(ctx context.Context, identityID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[identityID]
	if !ok {
		return models.ErrNotFound
	}
	cred.LastUsedAt = &at
	return nil
}

func (s *memTOTPStore) ConsumeBackupCode(ctx context.Context, identityID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range s.backupCodes[identityID] {
		if code.CodeHash == codeHash && code.UsedAt == nil {
			now := time.Now()
			code.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (s *memTOTPStore) CountUnusedBackupCodes(ctx context.Context, identityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, code := range s.backupCodes[identityID] {
		if code.UsedAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *memTOTPStore) ReplaceBackupCodes(ctx context.Context, identityID string, codes []models.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := make([]*models.BackupCode, len(codes))
	for i := range codes {
		c := codes[i]
		replaced[i] = &c
	}
	s.backupCodes[identityID] = replaced
	return nil
}

func (s *memTOTPStore) Delete(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[identityID]; !ok {
		return models.ErrNotFound
	}
	delete(s.credentials, identityID)
	delete(s.backupCodes, identityID)
	return nil
}

type memEmailOTPStore struct {
	mu     sync.Mutex
	states map[string]*models.EmailOTPState
}

func newMemEmailOTPStore() *memEmailOTPStore {
	return &memEmailOTPStore{states: make(map[string]*models.EmailOTPState)}
}

func (s *memEmailOTPStore) Get(ctx context.Context, identityID string) (*models.EmailOTPState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[identityID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (s *memEmailOTPStore) Upsert(ctx context.Context, state *models.EmailOTPState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	s.states[state.IdentityID] = &copied
	return nil
}

func (s *memEmailOTPStore) IncrementVerifyAttempts(ctx context.Context, identityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[identityID]
	if !ok {
		return 0, models.ErrNotFound
	}
	state.VerifyAttempts++
	return state.VerifyAttempts, nil
}

func (s *memEmailOTPStore) ClearPendingCode(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.states[identityID]; ok {
		state.CodeHash = nil
		state.CodeExpiresAt = nil
		state.VerifyAttempts = 0
	}
	return nil
}

func (s *memEmailOTPStore) Delete(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[identityID]; !ok {
		return models.ErrNotFound
	}
	delete(s.states, identityID)
	return nil
}

func (s *memEmailOTPStore) ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	for _, state := range s.states {
		if state.CodeExpiresAt != nil && state.CodeExpiresAt.Before(now) {
			state.CodeHash = nil
			state.CodeExpiresAt = nil
			state.VerifyAttempts = 0
			cleared++
		}
	}
	return cleared, nil
}

// recordingSender captures dispatched codes instead of sending email.
type recordingSender struct {
	mu    sync.Mutex
	sent  []sentCode
	errCh chan error
}

type sentCode struct {
	email string
	code  string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{errCh: make(chan error, 16)}
}

func (r *recordingSender) SendOTPCode(ctx context.Context, email, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, sentCode{email: email, code: code})
	return nil
}

func (r *recordingSender) lastCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1].code
}

func (r *recordingSender) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}
