package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"driver-auth-service/internal/models"
	"driver-auth-service/internal/service"
	"driver-auth-service/internal/util"
)

// OTPHandler exposes the verification and signup endpoints.
type OTPHandler struct {
	otpService    *service.OTPService
	signupService *service.SignupService
}

func NewOTPHandler(otpService *service.OTPService, signupService *service.SignupService) *OTPHandler {
	return &OTPHandler{
		otpService:    otpService,
		signupService: signupService,
	}
}

type sendOTPRequest struct {
	Phone      string             `json:"phone"`
	SignupData *models.SignupData `json:"signupData,omitempty"`
}

type verifyOTPRequest struct {
	SessionToken string `json:"sessionToken"`
	Code         string `json:"code"`
}

type finalizeSignupRequest struct {
	SessionToken string `json:"sessionToken"`
	Password     string `json:"password"`
}

// SendOTP handles POST /send-otp.
func (h *OTPHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "PHONE_REQUIRED", "request body must be valid JSON")
		return
	}

	result, err := h.otpService.SendOTP(r.Context(), req.Phone, req.SignupData, clientIP(r), r.UserAgent())
	if err != nil {
		var rateErr *service.RateLimitError
		switch {
		case errors.Is(err, service.ErrPhoneRequired):
			writeError(w, http.StatusBadRequest, "PHONE_REQUIRED", "phone number is required")
		case errors.Is(err, service.ErrInvalidPhone):
			writeError(w, http.StatusBadRequest, "INVALID_PHONE", "phone number is not a valid mobile number")
		case errors.Is(err, service.ErrInvalidSignupData):
			writeError(w, http.StatusBadRequest, "INVALID_SIGNUP_DATA", "signup data failed validation")
		case errors.As(err, &rateErr):
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"success":    false,
				"error":      "RATE_LIMITED",
				"retryAfter": rateErr.RetryAfterSeconds,
			})
		default:
			util.Error("send-otp failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "SESSION_ERROR", "failed to create verification session")
		}
		return
	}

	resp := map[string]interface{}{
		"success":            true,
		"sessionToken":       result.SessionToken,
		"expiresIn":          result.ExpiresIn,
		"rateLimitRemaining": result.RateLimitRemaining,
	}
	if result.DevCode != "" {
		resp["devCode"] = result.DevCode
	}
	writeJSON(w, http.StatusOK, resp)
}

// VerifyOTP handles POST /verify-otp.
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "request body must be valid JSON")
		return
	}

	result, err := h.otpService.VerifyOTP(r.Context(), req.SessionToken, req.Code)
	if err != nil {
		var stateErr *service.SessionStateError
		switch {
		case errors.Is(err, service.ErrMissingParams):
			writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "sessionToken and code are required")
		case errors.Is(err, service.ErrInvalidCodeFormat):
			writeError(w, http.StatusBadRequest, "INVALID_CODE_FORMAT", "code must be exactly 6 digits")
		case errors.Is(err, service.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "verification session not found")
		case errors.As(err, &stateErr):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success":           false,
				"error":             stateErr.Code,
				"remainingAttempts": stateErr.RemainingAttempts,
			})
		default:
			util.Error("verify-otp failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "SESSION_ERROR", "verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"verified":   result.Verified,
		"signupData": result.SignupData,
	})
}

// FinalizeSignup handles POST /finalize-signup.
func (h *OTPHandler) FinalizeSignup(w http.ResponseWriter, r *http.Request) {
	var req finalizeSignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "request body must be valid JSON")
		return
	}

	result, err := h.signupService.FinalizeSignup(r.Context(), req.SessionToken, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingParams):
			writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "sessionToken and password are required")
		case errors.Is(err, service.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "WEAK_PASSWORD", "password must be at least 8 characters")
		case errors.Is(err, service.ErrSessionNotVerified):
			writeError(w, http.StatusBadRequest, "SESSION_NOT_VERIFIED", "session is not verified")
		case errors.Is(err, service.ErrMissingEmail):
			writeError(w, http.StatusBadRequest, "MISSING_EMAIL", "signup data carries no email")
		case errors.Is(err, service.ErrEmailExists):
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "email is already registered")
		default:
			util.Error("finalize-signup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "AUTH_ERROR", "failed to create account")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"userId":  result.DriverID,
		"email":   result.Email,
	})
}

// Status handles GET /otp/status.
func (h *OTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.otpService.Status())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
