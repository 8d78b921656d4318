package domain

import "context"

// ============================================================
// Identity, Profiles & View Mode
// ============================================================

// Identity is the authenticated user as reported by the session provider.
// Immutable for the lifetime of a session.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Known profile roles. Any other string is treated as an unprivileged role.
const (
	RoleAdmin    = "admin"
	RoleOwner    = "owner"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Profile is the authoritative row from the `profiles` table.
// Role and ProjectID are the only authorization inputs.
type Profile struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id,omitempty"`
	Email     string  `json:"email"`
	FullName  *string `json:"full_name"`
	Role      string  `json:"role"`
	TenantID  string  `json:"tenant_id"`
	ProjectID *string `json:"project_id"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// IsPrivileged reports whether the stored role is admin or owner.
func (p *Profile) IsPrivileged() bool {
	if p == nil {
		return false
	}
	return p.Role == RoleAdmin || p.Role == RoleOwner
}

// AssignedProject returns the assigned project id or "".
func (p *Profile) AssignedProject() string {
	if p == nil || p.ProjectID == nil {
		return ""
	}
	return *p.ProjectID
}

// LegacyUserProfile is the row from the legacy `user_profile` table.
// It is informational only: it carries the account id used for admin
// project listing, and no authorization function accepts it.
type LegacyUserProfile struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// ViewMode is the privilege lens a user chose for the dashboard.
type ViewMode string

const (
	ViewModeAdmin  ViewMode = "admin"
	ViewModeClient ViewMode = "client"
)

// ParseViewMode validates a raw mode string.
func ParseViewMode(s string) (ViewMode, bool) {
	switch ViewMode(s) {
	case ViewModeAdmin, ViewModeClient:
		return ViewMode(s), true
	}
	return "", false
}

// RoleState is the resolved role of the caller plus derived permissions.
// A zero RoleState (no profile, all flags false) means "no access".
type RoleState struct {
	Profile           *Profile           `json:"profile"`
	Legacy            *LegacyUserProfile `json:"legacy_profile,omitempty"`
	ViewMode          ViewMode           `json:"view_mode"`
	CanSwitchRoles    bool               `json:"can_switch_roles"`
	AssignedProjectID string             `json:"assigned_project_id,omitempty"`
	IsAdmin           bool               `json:"is_admin"`
	IsOwner           bool               `json:"is_owner"`
	Loading           bool               `json:"loading"`
}

// EffectiveMode clamps the stored view mode by actual permission.
func (s RoleState) EffectiveMode() ViewMode {
	if s.ViewMode == ViewModeAdmin && s.CanSwitchRoles {
		return ViewModeAdmin
	}
	return ViewModeClient
}

// ShouldShowAdminFeatures is true only in effective admin mode.
func (s RoleState) ShouldShowAdminFeatures() bool {
	return s.EffectiveMode() == ViewModeAdmin
}

// HasAccess reports whether a profile was resolved at all.
func (s RoleState) HasAccess() bool {
	return s.Profile != nil
}

// AccountID is the account used to scope admin project listings.
// Falls back to the profile tenant when no legacy row exists.
func (s RoleState) AccountID() string {
	if s.Legacy != nil && s.Legacy.AccountID != "" {
		return s.Legacy.AccountID
	}
	if s.Profile != nil {
		return s.Profile.TenantID
	}
	return ""
}

// Session is returned by the session provider on sign-in.
type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	User         Identity `json:"user"`
}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accessTokenKey struct{}

// WithAccessToken attaches the caller's access token to ctx so data-source
// calls that must run as the user can forward it.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFrom returns the access token attached by WithAccessToken.
func AccessTokenFrom(ctx context.Context) string {
	v, _ := ctx.Value(accessTokenKey{}).(string)
	return v
}
