package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/api"
	"github.com/elskow/memorial-auth/internal/config"
	"github.com/elskow/memorial-auth/internal/session"
	"github.com/elskow/memorial-auth/internal/tokens"
)

type Handler struct {
	service     *Service
	middleware  *AuthMiddleware
	frontendURL string
	log         *zap.Logger
}

func NewHandler(cfg *config.ServerConfig, service *Service, middleware *AuthMiddleware, log *zap.Logger) *Handler {
	return &Handler{
		service:     service,
		middleware:  middleware,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		log:         log,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group(api.AuthGroup)
	g.POST(api.AuthMagicLink, h.RequestMagicLink)
	g.GET(api.AuthCallback, h.MagicLinkCallback)
	g.POST(api.AuthSignup, h.Signup)
	g.POST(api.AuthLogin, h.Login)
	g.GET(api.AuthSSO, h.StartSSO)
	g.GET(api.AuthSSOCallback, h.SSOCallback)
	g.POST(api.AuthForgotPassword, h.ForgotPassword)
	g.GET(api.AuthResetPassword, h.PreviewReset)
	g.POST(api.AuthResetPassword, h.ResetPassword)
	g.POST(api.AuthRefresh, h.Refresh)
	g.POST(api.AuthLogout, h.Logout)
	g.GET(api.AuthMe, h.middleware.RequireUser(), h.Me)

	r.GET(api.InvitationAccept, h.middleware.OptionalUser(), h.AcceptInvitation)
	r.POST(api.ResourceInvite, h.middleware.RequireRole(tokens.RoleOwner), h.Invite)
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type signupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Remember bool   `json:"remember"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type inviteRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

// RequestMagicLink answers 200 for any well-formed email so the response does
// not reveal whether an account exists.
func (h *Handler) RequestMagicLink(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, ErrInvalidRequest)
		return
	}

	ttl, err := h.service.RequestMagicLink(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrInvalidEmail) {
			writeError(c, h.log, err)
			return
		}
		h.log.Error("failed to send magic link", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "If the address is valid, a sign-in link is on its way.",
		"expiresIn": int(ttl.Seconds()),
	})
}

func (h *Handler) MagicLinkCallback(c *gin.Context) {
	if _, err := h.service.VerifyMagicLink(c.Request.Context(), c.Writer, c.Query("token")); err != nil {
		h.redirectError(c, err)
		return
	}
	c.Redirect(http.StatusFound, h.frontendURL+"/")
}

func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, ErrInvalidRequest)
		return
	}

	user, err := h.service.Signup(c.Request.Context(), c.Writer, SignupRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Remember: req.Remember,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, ErrInvalidRequest)
		return
	}

	user, err := h.service.Login(c.Request.Context(), c.Writer, LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		Remember:  req.Remember,
		Origin:    c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) StartSSO(c *gin.Context) {
	target, err := h.service.StartFederated(c.Request.Context(), c.Param(api.ProviderParam), c.ClientIP())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) SSOCallback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		h.log.Info("federated sign-in denied by provider",
			zap.String("provider", c.Param(api.ProviderParam)),
			zap.String("reason", denied))
		h.service.AbandonFederated(c.Request.Context(), c.Query("state"), c.ClientIP())
		h.redirectCode(c, "sso_denied")
		return
	}

	_, err := h.service.CompleteFederated(c.Request.Context(), c.Writer, FederatedCallback{
		Provider: c.Param(api.ProviderParam),
		Code:     c.Query("code"),
		State:    c.Query("state"),
		Origin:   c.ClientIP(),
	})
	if err != nil {
		h.redirectError(c, err)
		return
	}
	c.Redirect(http.StatusFound, h.frontendURL+"/")
}

// ForgotPassword always answers 200 with the same body.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	_ = c.ShouldBindJSON(&req)

	_ = h.service.RequestPasswordReset(c.Request.Context(), req.Email)
	c.JSON(http.StatusOK, gin.H{
		"message": "If an account exists for that address, a reset link has been sent.",
	})
}

func (h *Handler) PreviewReset(c *gin.Context) {
	if err := h.service.PreviewPasswordReset(c.Request.Context(), c.Query("token")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, ErrInvalidRequest)
		return
	}
	if err := h.service.CompletePasswordReset(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated. Please sign in again."})
}

// Refresh reads the refresh cookie and falls back to the JSON body for
// clients that cannot send cookies.
func (h *Handler) Refresh(c *gin.Context) {
	token, err := c.Cookie(session.RefreshCookie)
	if err != nil || token == "" {
		var req refreshRequest
		if c.Request.ContentLength != 0 {
			_ = c.ShouldBindJSON(&req)
		}
		token = req.RefreshToken
	}

	pair, err := h.service.Refresh(c.Request.Context(), c.Writer, token)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessExpiresAt":  pair.AccessExpiresAt,
		"refreshExpiresAt": pair.RefreshExpiresAt,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	h.service.Logout(c.Request.Context(), c.Writer, accessToken(c))
	c.JSON(http.StatusOK, gin.H{"message": "Signed out."})
}

func (h *Handler) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		writeError(c, h.log, ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) AcceptInvitation(c *gin.Context) {
	invitation, err := h.service.AcceptInvitation(c.Request.Context(), c.Param(api.InvitationParam))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	body := gin.H{
		"resource": invitation.ResourceID,
		"role":     invitation.Role,
	}
	// Access is granted to the invited address. A signed-in visitor under
	// another address is told so the client can prompt a switch.
	if user, ok := CurrentUser(c); ok {
		matches := strings.EqualFold(user.Email, invitation.Email)
		if !matches {
			h.log.Info("invitation accepted while signed in as another account",
				zap.String("user_id", user.ID),
				zap.String("invited_email", invitation.Email),
				zap.String("resource_id", invitation.ResourceID))
		}
		body["accountMatches"] = matches
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Invite(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		writeError(c, h.log, ErrUnauthorized)
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, ErrInvalidRequest)
		return
	}

	err := h.service.Invite(c.Request.Context(), user, InviteRequest{
		ResourceID: c.Param(api.ResourceIDParam),
		Email:      req.Email,
		Role:       tokens.Role(strings.ToLower(req.Role)),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Invitation sent."})
}

func (h *Handler) redirectError(c *gin.Context, err error) {
	code := redirectCode(err)
	if code == "auth_failed" {
		h.log.Error("browser sign-in failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.log.Info("browser sign-in rejected", zap.String("code", code), zap.Error(err))
	}
	h.redirectCode(c, code)
}

func (h *Handler) redirectCode(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, h.frontendURL+"/login?error="+url.QueryEscape(code))
}
