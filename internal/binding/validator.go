package binding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/johnnynv/issuesync/internal/gitclient"
	"github.com/johnnynv/issuesync/internal/storage"
	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// DefaultValidationTTL is how long a successful validation may be used to
// configure a binding
const DefaultValidationTTL = 15 * time.Minute

// Config tunes a Validator
type Config struct {
	ValidationTTL   time.Duration
	DefaultInterval int
}

// validation is a successful Validate call waiting to be consumed
type validation struct {
	expires    time.Time
	repository *types.RemoteRepository
}

// Validator owns the binding lifecycle. A binding can only be saved with
// credentials that passed Validate within the TTL.
type Validator struct {
	store   storage.BindingStore
	clients gitclient.ClientProvider
	config  Config
	logger  *logger.Entry
	now     func() time.Time

	mu        sync.Mutex
	validated map[string]validation
}

// NewValidator creates a binding validator
func NewValidator(store storage.BindingStore, clients gitclient.ClientProvider, config Config, parentLogger *logger.Entry) *Validator {
	if config.ValidationTTL <= 0 {
		config.ValidationTTL = DefaultValidationTTL
	}
	if config.DefaultInterval == 0 {
		config.DefaultInterval = types.DefaultSyncInterval
	}
	return &Validator{
		store:     store,
		clients:   clients,
		config:    config,
		logger:    parentLogger.WithField("component", "binding"),
		now:       time.Now,
		validated: make(map[string]validation),
	}
}

// SetClock replaces the time source
func (v *Validator) SetClock(now func() time.Time) {
	v.now = now
}

// Fingerprint identifies one (project, repository, token) combination
// without retaining the token.
func Fingerprint(projectID, owner, name, token string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{projectID, owner, name, token}, "|")))
	return hex.EncodeToString(sum[:])
}

// Validate checks that token can read and write owner/name. On success the
// credentials are remembered so Configure can accept them.
func (v *Validator) Validate(ctx context.Context, projectID, owner, name, token string) (*types.ValidationResult, error) {
	owner, name, token = strings.TrimSpace(owner), strings.TrimSpace(name), strings.TrimSpace(token)
	if err := checkInput(projectID, owner, name, token); err != nil {
		return invalid(err), err
	}

	log := v.logger.WithFields(logger.Fields{
		"operation":  "validate",
		"project_id": projectID,
		"repository": owner + "/" + name,
	})

	client, err := v.clients.CreateClient(owner, name, token)
	if err != nil {
		return invalid(err), err
	}

	repo, err := client.GetRepository(ctx)
	if err != nil {
		log.WithError(err).Warn("Repository lookup failed")
		return invalid(err), err
	}

	perms, err := client.GetPermissions(ctx)
	if err != nil {
		log.WithError(err).Warn("Permission lookup failed")
		return invalid(err), err
	}

	snapshot, err := client.GetRateLimit(ctx)
	if err != nil {
		// The quota is informational here; fall back to what the last
		// response headers reported.
		log.WithError(err).Debug("Rate limit lookup failed")
		s := client.RateLimiter().Snapshot()
		snapshot = &s
	}

	result := &types.ValidationResult{
		Repository:  repo,
		Permissions: perms,
		RateLimit:   snapshot,
	}

	if !perms.Pull {
		err := &types.PermissionError{Permission: "pull", Message: "token cannot read " + repo.FullName}
		result.Error = err.Error()
		return result, err
	}
	if !perms.Push {
		err := &types.PermissionError{Permission: "push", Message: "token cannot write issues on " + repo.FullName}
		result.Error = err.Error()
		return result, err
	}

	v.mu.Lock()
	v.pruneLocked()
	v.validated[Fingerprint(projectID, owner, name, token)] = validation{
		expires:    v.now().Add(v.config.ValidationTTL),
		repository: repo,
	}
	v.mu.Unlock()

	result.Valid = true
	log.WithFields(logger.Fields{
		"admin": perms.Admin,
		"push":  perms.Push,
		"pull":  perms.Pull,
	}).Info("Repository validated")

	return result, nil
}

// Configure saves the binding for projectID. The credentials must have
// passed Validate; the validation is consumed on success.
func (v *Validator) Configure(ctx context.Context, projectID string, input types.BindingInput) (*types.RepositoryBinding, error) {
	owner := strings.TrimSpace(input.Owner)
	name := strings.TrimSpace(input.Name)
	token := strings.TrimSpace(input.AccessToken)
	if err := checkInput(projectID, owner, name, token); err != nil {
		return nil, err
	}

	interval := input.SyncInterval
	if interval == 0 {
		interval = v.config.DefaultInterval
	}
	if interval < types.MinSyncInterval || interval > types.MaxSyncInterval {
		return nil, &types.ConfigurationError{
			Field:   "syncInterval",
			Message: "must be between 60 and 86400 seconds",
		}
	}

	autoSync := true
	if input.AutoSync != nil {
		autoSync = *input.AutoSync
	}

	fp := Fingerprint(projectID, owner, name, token)
	v.mu.Lock()
	entry, ok := v.validated[fp]
	if ok && !v.now().Before(entry.expires) {
		delete(v.validated, fp)
		ok = false
	}
	v.mu.Unlock()
	if !ok {
		return nil, &types.ConfigurationError{
			Field:   "accessToken",
			Message: "repository must be validated before it can be configured",
		}
	}

	binding := &types.RepositoryBinding{
		ProjectID:    projectID,
		Owner:        owner,
		Name:         name,
		FullName:     entry.repository.FullName,
		Token:        token,
		AutoSync:     autoSync,
		SyncInterval: interval,
		IsActive:     true,
		HTMLURL:      entry.repository.HTMLURL,
		IsPrivate:    entry.repository.Private,
	}

	existing, err := v.store.GetBinding(ctx, projectID)
	switch {
	case err == nil:
		binding.CreatedAt = existing.CreatedAt
		// The watermark only means something for the same repository
		if strings.EqualFold(existing.Owner, owner) && strings.EqualFold(existing.Name, name) {
			binding.LastSyncAt = existing.LastSyncAt
		}
	case types.KindOf(err) != types.KindNotFound:
		return nil, err
	}

	if err := v.store.SaveBinding(ctx, binding); err != nil {
		return nil, err
	}

	v.mu.Lock()
	delete(v.validated, fp)
	v.mu.Unlock()

	v.logger.WithFields(logger.Fields{
		"operation":     "configure",
		"project_id":    projectID,
		"repository":    binding.FullName,
		"auto_sync":     autoSync,
		"sync_interval": interval,
	}).Info("Repository binding configured")

	return binding.Redacted(), nil
}

// Delete removes the binding for projectID. Linked issues keep their
// remote ids.
func (v *Validator) Delete(ctx context.Context, projectID string) error {
	if err := v.store.DeleteBinding(ctx, projectID); err != nil {
		return err
	}
	v.logger.WithFields(logger.Fields{
		"operation":  "delete",
		"project_id": projectID,
	}).Info("Repository binding deleted")
	return nil
}

// Get returns the redacted binding for projectID
func (v *Validator) Get(ctx context.Context, projectID string) (*types.RepositoryBinding, error) {
	binding, err := v.store.GetBinding(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return binding.Redacted(), nil
}

// Resolve returns the full binding, token included, for a sync run.
// Inactive bindings are reported as missing.
func (v *Validator) Resolve(ctx context.Context, projectID string) (*types.RepositoryBinding, error) {
	binding, err := v.store.GetBinding(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !binding.IsActive {
		return nil, &types.NotFoundError{Resource: "active repository binding", ID: projectID}
	}
	return binding, nil
}

// pruneLocked drops expired validations. Caller holds v.mu.
func (v *Validator) pruneLocked() {
	now := v.now()
	for fp, entry := range v.validated {
		if !now.Before(entry.expires) {
			delete(v.validated, fp)
		}
	}
}

func checkInput(projectID, owner, name, token string) error {
	switch {
	case strings.TrimSpace(projectID) == "":
		return &types.ConfigurationError{Field: "projectId", Message: "is required"}
	case owner == "":
		return &types.ConfigurationError{Field: "owner", Message: "is required"}
	case name == "":
		return &types.ConfigurationError{Field: "name", Message: "is required"}
	case token == "":
		return &types.ConfigurationError{Field: "accessToken", Message: "is required"}
	case strings.ContainsAny(owner+name, "/ "):
		return &types.ConfigurationError{Field: "name", Message: "owner and name must not contain '/' or spaces"}
	}
	return nil
}

func invalid(err error) *types.ValidationResult {
	return &types.ValidationResult{Valid: false, Error: err.Error()}
}
