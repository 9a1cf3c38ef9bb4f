package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/AfshinJalili/libris/libs/auth"
	"github.com/AfshinJalili/libris/services/auth/internal/rate"
	"github.com/AfshinJalili/libris/services/auth/internal/security"
	"github.com/AfshinJalili/libris/services/auth/internal/service"
	"github.com/AfshinJalili/libris/services/auth/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Accounts interface {
	Signup(ctx context.Context, name, email, password string) (*storage.User, error)
	VerifyEmail(ctx context.Context, email, code string) error
	ResendOTP(ctx context.Context, email string) error
	Login(ctx context.Context, email, password, deviceInfo string) (*service.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*storage.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, update storage.ProfileUpdate) (*storage.User, error)
}

type Credentials interface {
	Rotate(ctx context.Context, refreshToken string) (security.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
}

type AuthHandler struct {
	Accounts    Accounts
	Credentials Credentials
	Logger      *slog.Logger
	JWTSecret   []byte
	AccessTTL   time.Duration
	RateLimiter rate.Limiter
}

func NewAuthHandler(accounts Accounts, credentials Credentials, logger *slog.Logger, jwtSecret string, accessTTL time.Duration, limiter rate.Limiter) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		Accounts:    accounts,
		Credentials: credentials,
		Logger:      logger,
		JWTSecret:   []byte(jwtSecret),
		AccessTTL:   accessTTL,
		RateLimiter: limiter,
	}
}

func (h *AuthHandler) RegisterRoutes(r *gin.Engine) {
	g := r.Group("/auth")
	g.POST("/signup", h.limit("signup"), h.Signup)
	g.POST("/verify-otp", h.limit("verify-otp"), h.VerifyOTP)
	g.POST("/resend-otp", h.limit("resend-otp"), h.ResendOTP)
	g.POST("/login", h.limit("login"), h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)
	g.POST("/forgot-password", h.limit("forgot-password"), h.ForgotPassword)
	g.POST("/reset-password", h.limit("reset-password"), h.ResetPassword)

	users := r.Group("/users", auth.Middleware(h.JWTSecret))
	users.GET("/me", h.GetMe)
	users.PUT("/me", h.UpdateMe)
}

// limit applies the fixed-window limiter per route and client IP.
func (h *AuthHandler) limit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.RateLimiter == nil {
			c.Next()
			return
		}
		decision, err := h.RateLimiter.Allow(c.Request.Context(), scope, c.ClientIP(), time.Now())
		if err != nil {
			h.Logger.Error("rate limiter failed", "scope", scope, "error", err)
			writeError(c, h.Logger, apperr.Internal(err))
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			secs := int(decision.RetryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			writeError(c, h.Logger, apperr.RateLimited("too many requests"))
			return
		}
		c.Next()
	}
}

type signupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type verifyOTPRequest struct {
	Email   string `json:"email" binding:"required,email"`
	OTPCode string `json:"otp_code" binding:"required,len=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	OTPCode     string `json:"otp_code" binding:"required,len=6"`
	NewPassword string `json:"new_password" binding:"required"`
}

type updateProfileRequest struct {
	Name           *string `json:"name"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profile_picture"`
}

type userResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Bio            *string   `json:"bio"`
	ProfilePicture *string   `json:"profile_picture"`
	IsVerified     bool      `json:"is_verified"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type loginResponse struct {
	Message string        `json:"message"`
	User    userResponse  `json:"user"`
	Tokens  tokenResponse `json:"tokens"`
}

type messageResponse struct {
	Message string `json:"message"`
	Email   string `json:"email,omitempty"`
}

func toUserResponse(u *storage.User) userResponse {
	return userResponse{
		ID:             u.ID.String(),
		Name:           u.Name,
		Email:          u.Email,
		Bio:            u.Bio,
		ProfilePicture: u.ProfilePicture,
		IsVerified:     u.IsVerified,
		IsActive:       u.IsActive,
		CreatedAt:      u.CreatedAt.UTC(),
	}
}

func (h *AuthHandler) toTokenResponse(p security.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(h.AccessTTL.Seconds()),
	}
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	user, err := h.Accounts.Signup(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":  "Signup successful. Please verify your email with the OTP sent to you.",
		"email":    user.Email,
		"otp_sent": true,
	})
}

func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	if err := h.Accounts.VerifyEmail(c.Request.Context(), req.Email, req.OTPCode); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Email verified successfully. You can now login.",
		"email":    req.Email,
		"verified": true,
	})
}

func (h *AuthHandler) ResendOTP(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	if err := h.Accounts.ResendOTP(c.Request.Context(), req.Email); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "If the account needs verification, a new OTP has been sent.", Email: req.Email})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	res, err := h.Accounts.Login(c.Request.Context(), req.Email, req.Password, c.Request.UserAgent())
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Message: "Login successful",
		User:    toUserResponse(res.User),
		Tokens:  h.toTokenResponse(res.Tokens),
	})
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	pair, err := h.Credentials.Rotate(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toTokenResponse(pair))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	if err := h.Credentials.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Logout successful"})
}

func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	if err := h.Accounts.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "If the email exists, an OTP has been sent for password reset.", Email: req.Email})
}

func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	if err := h.Accounts.ResetPassword(c.Request.Context(), req.Email, req.OTPCode, req.NewPassword); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Password reset successful. Please login with new password.", Email: req.Email})
}

func (h *AuthHandler) GetMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		writeError(c, h.Logger, apperr.Unauthorized("invalid token subject"))
		return
	}
	user, err := h.Accounts.GetProfile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) UpdateMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		writeError(c, h.Logger, apperr.Unauthorized("invalid token subject"))
		return
	}
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c, err)
		return
	}
	user, err := h.Accounts.UpdateProfile(c.Request.Context(), userID, storage.ProfileUpdate{
		Name:           req.Name,
		Bio:            req.Bio,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	p, ok := auth.PrincipalFrom(c)
	return p.UserID, ok
}
