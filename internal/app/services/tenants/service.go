package tenants

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/token_engine/internal/app/core/service"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/storage"
	"github.com/R3E-Network/token_engine/internal/config"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/logging"
)

const (
	// APIKeyPrefix starts every API key.
	APIKeyPrefix = "te_"
	apiKeyBytes  = 24
	// APIKeyLength is the full length of an API key.
	APIKeyLength = len(APIKeyPrefix) + 2*apiKeyBytes

	minPasswordLength = 8
	displayPrefixLen  = len(APIKeyPrefix) + 8
)

var errInvalidCredentials = svcerrors.Unauthorized("Invalid email or password")

// Service manages tenants and their credentials.
type Service struct {
	store      storage.TenantStore
	network    ledger.Network
	plans      config.Plans
	treasuryID string
	bcryptCost int
	log        *logging.Logger
}

// New constructs a tenant service. network and treasuryID are only needed
// for Provision.
func New(store storage.TenantStore, network ledger.Network, plans config.Plans, treasuryID string, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("tenants")
	}
	if plans == nil {
		plans = config.DefaultPlans()
	}
	return &Service{
		store:      store,
		network:    network,
		plans:      plans,
		treasuryID: treasuryID,
		bcryptCost: bcrypt.DefaultCost,
		log:        log,
	}
}

// Descriptor advertises the service placement.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "tenants",
		Domain:       "auth",
		Layer:        service.LayerPlatform,
		Capabilities: []string{"register", "login", "api-key"},
	}
}

// RegisterRequest creates a tenant account on the dashboard.
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
	Plan     string
}

// Register creates a tenant and returns it with its raw API key, which is
// never retrievable again.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (tenant.Tenant, string, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" {
		return tenant.Tenant{}, "", svcerrors.Validation("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return tenant.Tenant{}, "", svcerrors.Validation("email is invalid")
	}
	if len(req.Password) < minPasswordLength {
		return tenant.Tenant{}, "", svcerrors.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	plan := strings.ToUpper(strings.TrimSpace(req.Plan))
	if plan == "" {
		plan = config.PlanFree
	}
	if !s.plans.Valid(plan) {
		return tenant.Tenant{}, "", svcerrors.Validation("unknown plan " + plan)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return tenant.Tenant{}, "", svcerrors.Internal("failed to hash password", err)
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return tenant.Tenant{}, "", svcerrors.Internal("failed to generate API key", err)
	}

	created, err := s.store.CreateTenant(ctx, tenant.Tenant{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		APIKeyHash:   HashAPIKey(key),
		APIKeyPrefix: DisplayPrefix(key),
		Plan:         plan,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return tenant.Tenant{}, "", svcerrors.Conflict("A tenant with this email already exists")
		}
		return tenant.Tenant{}, "", storage.AsServiceError(err, "tenant", email)
	}
	s.log.WithContext(ctx).WithField("tenant_id", created.ID).Info("tenant registered")
	return created, key, nil
}

// Login checks email and password.
func (s *Service) Login(ctx context.Context, email, password string) (tenant.Tenant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return tenant.Tenant{}, svcerrors.Validation("email and password are required")
	}
	t, err := s.store.GetTenantByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.LogSecurityEvent(ctx, "login_unknown_email", map[string]interface{}{"email": email})
			return tenant.Tenant{}, errInvalidCredentials
		}
		return tenant.Tenant{}, storage.AsServiceError(err, "tenant", email)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(t.PasswordHash), []byte(password)); err != nil {
		s.log.LogSecurityEvent(ctx, "login_bad_password", map[string]interface{}{"tenant_id": t.ID})
		return tenant.Tenant{}, errInvalidCredentials
	}
	return t, nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id string) (tenant.Tenant, error) {
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return tenant.Tenant{}, storage.AsServiceError(err, "tenant", id)
	}
	return t, nil
}

// RotateAPIKey replaces the tenant's key. The old key stops working at once.
func (s *Service) RotateAPIKey(ctx context.Context, id string) (string, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return "", svcerrors.Internal("failed to generate API key", err)
	}
	t.APIKeyHash = HashAPIKey(key)
	t.APIKeyPrefix = DisplayPrefix(key)
	if _, err := s.store.UpdateTenant(ctx, t); err != nil {
		return "", storage.AsServiceError(err, "tenant", id)
	}
	s.log.LogSecurityEvent(ctx, "api_key_rotated", map[string]interface{}{"tenant_id": id})
	return key, nil
}

// Authenticate resolves an API key to its tenant.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (tenant.Tenant, error) {
	if !WellFormedAPIKey(apiKey) {
		return tenant.Tenant{}, svcerrors.Unauthorized("Invalid API key")
	}
	t, err := s.store.GetTenantByAPIKeyHash(ctx, HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return tenant.Tenant{}, svcerrors.Unauthorized("Invalid API key")
		}
		return tenant.Tenant{}, storage.AsServiceError(err, "tenant", "api-key")
	}
	return t, nil
}

// Provision creates the tenant's consent, data capture and incentive tokens
// in the operator treasury. Tokens that already exist are kept.
func (s *Service) Provision(ctx context.Context, id string, incentiveSupply uint64) (tenant.Tenant, error) {
	if s.network == nil || s.treasuryID == "" {
		return tenant.Tenant{}, svcerrors.ServiceUnavailable("ledger operator is not configured", nil)
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return tenant.Tenant{}, err
	}
	if t.TreasuryAccountID == "" {
		t.TreasuryAccountID = s.treasuryID
	}

	symbol := tokenSymbol(t.Name)
	specs := []struct {
		target *string
		spec   ledger.TokenSpec
	}{
		{&t.Tokens.ConsentTokenID, ledger.TokenSpec{Name: t.Name + " Consent", Symbol: symbol + "C", Type: ledger.TokenTypeNFT}},
		{&t.Tokens.DataCaptureTokenID, ledger.TokenSpec{Name: t.Name + " Data Capture", Symbol: symbol + "D", Type: ledger.TokenTypeNFT}},
		{&t.Tokens.IncentiveTokenID, ledger.TokenSpec{Name: t.Name + " Incentive", Symbol: symbol + "I", Type: ledger.TokenTypeFungible, InitialSupply: incentiveSupply}},
	}
	for _, item := range specs {
		if *item.target != "" {
			continue
		}
		item.spec.TreasuryID = t.TreasuryAccountID
		tokenID, err := s.network.CreateToken(ctx, item.spec)
		if err != nil {
			return tenant.Tenant{}, ledger.ToServiceError(err)
		}
		*item.target = tokenID
		s.log.WithContext(ctx).WithFields(map[string]interface{}{
			"tenant_id": t.ID,
			"token_id":  tokenID,
			"name":      item.spec.Name,
		}).Info("tenant token created")
	}

	updated, err := s.store.UpdateTenant(ctx, t)
	if err != nil {
		return tenant.Tenant{}, storage.AsServiceError(err, "tenant", id)
	}
	return updated, nil
}

// GenerateAPIKey returns a fresh "te_" key with 48 hex characters.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// DisplayPrefix is the part of a key shown on the dashboard after creation.
func DisplayPrefix(key string) string {
	if len(key) < displayPrefixLen {
		return key
	}
	return key[:displayPrefixLen]
}

// HashAPIKey returns the stored form of an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// WellFormedAPIKey checks prefix, length and alphabet.
func WellFormedAPIKey(key string) bool {
	if len(key) != APIKeyLength || !strings.HasPrefix(key, APIKeyPrefix) {
		return false
	}
	_, err := hex.DecodeString(key[len(APIKeyPrefix):])
	return err == nil
}

func tokenSymbol(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
		if b.Len() == 4 {
			break
		}
	}
	if b.Len() == 0 {
		return "TE"
	}
	return b.String()
}
