package handler

import (
	"errors"
	"net/http"

	"aivest/internal/auth"
	"aivest/internal/domain"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// Register godoc
// @Summary      Create an account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body  registerRequest  true  "username, email and password"
// @Success      201  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Router       /register [post]
func (h *Handler) Register(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.register")
	defer span.End()

	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is not configured"})
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields required"})
		return
	}

	_, err := h.auth.Register(ctx, req.Username, req.Email, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"message": "User registered"})
	case errors.Is(err, auth.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields required"})
	case errors.Is(err, domain.ErrUserExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "User exists"})
	case errors.Is(err, auth.ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrStoreDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Login godoc
// @Summary      Log in
// @Description  Verifies credentials and returns a bearer token for the Authorization header
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body  loginRequest  true  "username and password"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /login [post]
func (h *Handler) Login(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.login")
	defer span.End()

	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	sess, err := h.auth.Login(ctx, req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"message":    "Welcome " + sess.Username,
			"token":      sess.Token,
			"expires_at": sess.ExpiresAt,
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, auth.ErrStoreDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Logout godoc
// @Summary      End the current session
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /logout [post]
func (h *Handler) Logout(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.logout")
	defer span.End()

	sess, _ := SessionFrom(c)
	if err := h.auth.Logout(ctx, sess.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// ResetPassword godoc
// @Summary      Change the password of the logged-in user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body  resetPasswordRequest  true  "new password"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /reset-password [post]
func (h *Handler) ResetPassword(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.reset-password")
	defer span.End()

	sess, _ := SessionFrom(c)
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_password is required"})
		return
	}

	err := h.auth.ResetPassword(ctx, sess.Username, req.NewPassword)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
	case errors.Is(err, auth.ErrPasswordTooLong), errors.Is(err, auth.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user no longer exists"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
