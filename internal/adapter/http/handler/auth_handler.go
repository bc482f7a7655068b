package handler

import (
	"settlement-pipeline/internal/adapter/http/dto"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/pkg/apperror"
	"settlement-pipeline/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues operator tokens for the admin API.
type AuthHandler struct {
	authSvc ports.AuthService
}

func NewAuthHandler(authSvc ports.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	token, expiry, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{Token: token, Expiry: expiry.Unix()})
}
