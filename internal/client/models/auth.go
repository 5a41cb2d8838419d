package models

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the response of POST /auth/login.
type LoginResult struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        *Identity `json:"user,omitempty"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"full_name,omitempty"`
	Role        Role   `json:"role,omitempty"`
}

// TwoFactorSecret is the response of POST /auth/2fa/enable.
type TwoFactorSecret struct {
	Secret string `json:"secret"`
	QRURL  string `json:"qr_url"`
}

// TwoFactorCode is the body of the verify-setup and disable calls.
type TwoFactorCode struct {
	Code string `json:"code"`
}

// TwoFactorEnrollment is the caller-facing view of a pending enrollment.
// It is a copy; the enrollment machine keeps the authoritative buffer.
type TwoFactorEnrollment struct {
	Secret          string
	ProvisioningURI string
}
