package handlers

import (
	"errors"
	"net/http"

	"sensor_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	msgRegistered   = "Registration successful. Check your email for confirmation."
	msgLoggedIn     = "Login successful."
	msgConfirmed    = "Your email has been verified! You can now log in."
	msgConfirmError = "Token expired or invalid."
)

type registerInput struct {
	Email string `json:"email" binding:"required"`
}

type loginInput struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// bindJSONOrBadRequest tries to bind the request body into dst and writes a 400 JSON on failure.
// Returns false if the request was already handled (aborted), true otherwise.
func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if h.log != nil {
			h.log.Infow("auth_bad_request_body", "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// @Summary      Register an account
// @Description  Creates (or replaces) an unverified account, returns the generated password once and mails a confirmation link.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      registerInput  true  "email"
// @Success      200   {object}  map[string]string  "message, password"
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /register [post]
func (h *Handler) register(c *gin.Context) {
	var input registerInput
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	res, err := h.services.Register(c.Request.Context(), input.Email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
		case errors.Is(err, service.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		default:
			h.logAndJSONError(c, http.StatusInternalServerError, "auth_register_failed", "registration failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgRegistered, "password": res.Password})
}

// @Summary      Log in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginInput  true  "credentials"
// @Success      200   {object}  map[string]string  "message, token"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /login [post]
func (h *Handler) login(c *gin.Context) {
	var input loginInput
	if ok := h.bindJSONOrBadRequest(c, &input); !ok {
		return
	}

	token, err := h.services.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		if h.log != nil {
			h.log.Infow("auth_login_failed", "email", input.Email, "err", err)
		}
		switch {
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrUnverified):
			c.JSON(http.StatusForbidden, gin.H{"error": "email not verified"})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		default:
			h.logAndJSONError(c, http.StatusInternalServerError, "auth_login_error", "login failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgLoggedIn, "token": token})
}

// @Summary      Confirm an email address
// @Tags         auth
// @Produce      html
// @Param        token  query     string  true  "confirmation token"
// @Success      200    {string}  string
// @Failure      400    {string}  string
// @Failure      500    {string}  string
// @Router       /confirm [get]
func (h *Handler) confirm(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.String(http.StatusBadRequest, msgConfirmError)
		return
	}

	if err := h.services.Confirm(c.Request.Context(), token); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			c.String(http.StatusBadRequest, msgConfirmError)
			return
		}
		if h.log != nil {
			h.log.Errorw("auth_confirm_failed", "err", err)
		}
		c.String(http.StatusInternalServerError, "Confirmation failed, try again later.")
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(msgConfirmed))
}

// logAndJSONError logs err under event (when a logger is set) and writes msg
// as the JSON error body.
func (h *Handler) logAndJSONError(c *gin.Context, status int, event, msg string, err error) {
	if h.log != nil {
		h.log.Errorw(event, "err", err, "path", c.FullPath())
	}
	c.JSON(status, gin.H{"error": msg})
}
