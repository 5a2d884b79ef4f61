package tenant

import "time"

// Tokens are the three tokens every tenant issues.
type Tokens struct {
	ConsentTokenID     string
	DataCaptureTokenID string
	IncentiveTokenID   string
}

// IDs returns the token ids in association order.
func (t Tokens) IDs() []string {
	out := make([]string, 0, 3)
	for _, id := range []string{t.ConsentTokenID, t.DataCaptureTokenID, t.IncentiveTokenID} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Complete reports whether all three tokens are configured.
func (t Tokens) Complete() bool {
	return t.ConsentTokenID != "" && t.DataCaptureTokenID != "" && t.IncentiveTokenID != ""
}

// Tenant is an API consumer.
type Tenant struct {
	ID                string
	Name              string
	Email             string
	PasswordHash      string
	APIKeyHash        string
	APIKeyPrefix      string
	Plan              string
	TreasuryAccountID string
	Tokens            Tokens
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Context is the per-request view of the authenticated tenant. It is built
// once by the API key middleware and never modified afterwards.
type Context struct {
	id         string
	name       string
	plan       string
	treasuryID string
	tokens     Tokens
}

// NewContext snapshots t.
func NewContext(t Tenant) Context {
	return Context{
		id:         t.ID,
		name:       t.Name,
		plan:       t.Plan,
		treasuryID: t.TreasuryAccountID,
		tokens:     t.Tokens,
	}
}

func (c Context) ID() string         { return c.id }
func (c Context) Name() string       { return c.name }
func (c Context) Plan() string       { return c.plan }
func (c Context) TreasuryID() string { return c.treasuryID }
func (c Context) Tokens() Tokens     { return c.tokens }
