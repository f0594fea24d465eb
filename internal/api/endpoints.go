package api

// Authentication endpoints, relative to the /auth group.
const (
	AuthGroup = "/auth"

	AuthMagicLink      = "/magic-link"
	AuthCallback       = "/callback"
	AuthSignup         = "/signup"
	AuthLogin          = "/login"
	AuthSSO            = "/sso/:provider"
	AuthSSOCallback    = "/sso/callback/:provider"
	AuthForgotPassword = "/forgot-password"
	AuthResetPassword  = "/reset-password"
	AuthRefresh        = "/refresh"
	AuthLogout         = "/logout"
	AuthMe             = "/me"
)

// Collaboration endpoints.
const (
	InvitationAccept = "/invitations/:token"
	ResourceInvite   = "/resources/:id/invitations"
	ResourceIDParam  = "id"
	InvitationParam  = "token"
	ProviderParam    = "provider"
)

const Health = "/healthz"
