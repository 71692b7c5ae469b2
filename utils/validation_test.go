package utils_test

import (
	"strings"
	"testing"

	"hospital/utils"

	"golang.org/x/crypto/bcrypt"
)

func TestCheckPasswordHash(t *testing.T) {
	password := "SecurePass123!"

	hash, err := utils.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to generate password hash: %v", err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
	}{
		{
			name:     "Valid password should match hash",
			password: password,
			hash:     hash,
			want:     true,
		},
		{
			name:     "Invalid password should not match hash",
			password: "WrongPassword123!",
			hash:     hash,
			want:     false,
		},
		{
			name:     "Empty password should not match hash",
			password: "",
			hash:     hash,
			want:     false,
		},
		{
			name:     "Plaintext stored value is not a hash",
			password: password,
			hash:     password,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := utils.CheckPasswordHash(tt.password, tt.hash); got != tt.want {
				t.Errorf("CheckPasswordHash() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckPlaintextPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		stored   string
		want     bool
	}{
		{"Exact match", "legacy-pass", "legacy-pass", true},
		{"Different password", "legacy-pass", "legacy-pasS", false},
		{"Prefix", "legacy", "legacy-pass", false},
		{"Empty against stored", "", "legacy-pass", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := utils.CheckPlaintextPassword(tt.password, tt.stored); got != tt.want {
				t.Errorf("CheckPlaintextPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerificationTokens(t *testing.T) {
	token, err := utils.GenerateHexToken(utils.VerificationTokenBytes)
	if err != nil {
		t.Fatalf("GenerateHexToken() error = %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	other, _ := utils.GenerateHexToken(utils.VerificationTokenBytes)
	if token == other {
		t.Error("two generated tokens are equal")
	}

	stored := utils.HashToken(token)
	if stored == token {
		t.Error("HashToken() returned the token itself")
	}
	if !utils.TokenMatches(stored, token) {
		t.Error("TokenMatches() rejected the issued token")
	}
	if utils.TokenMatches(stored, other) {
		t.Error("TokenMatches() accepted a different token")
	}
	if utils.TokenMatches(stored, stored) {
		t.Error("TokenMatches() accepted the stored digest as a token")
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		errMsg   string
	}{
		{"Valid username", "dr_house42", ""},
		{"Empty", "", "Username is required"},
		{"Too short", "ab", "Username must be at least 3 characters long"},
		{"Space", "dr house", "Username can only contain letters, numbers and underscore"},
		{"Markup", "<script>", "Username can only contain letters, numbers and underscore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := utils.ValidateUsername(tt.username)
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("ValidateUsername() error = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.errMsg {
				t.Errorf("ValidateUsername() error = %v, want %q", err, tt.errMsg)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{
			name:  "Valid email should pass validation",
			email: "user@example.com",
			want:  true,
		},
		{
			name:  "Valid email with subdomain should pass validation",
			email: "user@subdomain.example.com",
			want:  true,
		},
		{
			name:  "Valid email with plus addressing should pass validation",
			email: "user+tag@example.com",
			want:  true,
		},
		{
			name:  "Email missing @ symbol should fail validation",
			email: "userexample.com",
			want:  false,
		},
		{
			name:  "Email missing domain should fail validation",
			email: "user@",
			want:  false,
		},
		{
			name:  "Domain without dot should fail validation",
			email: "user@localhost",
			want:  false,
		},
		{
			name:  "Email with invalid characters should fail validation",
			email: "user name@example.com",
			want:  false,
		},
		{
			name:  "Display name form should fail validation",
			email: "User <user@example.com>",
			want:  false,
		},
		{
			name:  "Empty email should fail validation",
			email: "",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := utils.ValidateEmail(tt.email)
			if (err == nil) != tt.want {
				t.Errorf("ValidateEmail() error = %v, wantErr = %v", err, !tt.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := utils.NormalizeEmail("  Dr.House@Example.COM "); got != "dr.house@example.com" {
		t.Errorf("NormalizeEmail() = %q", got)
	}
}

func TestValidatePassword(t *testing.T) {
	const composition = "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character (@$!%*?&)"

	tests := []struct {
		name     string
		password string
		wantErr  bool
		errMsg   string
	}{
		{
			name:     "Valid password should pass validation",
			password: "SecureP@ss123",
			wantErr:  false,
		},
		{
			name:     "Password too short should fail validation",
			password: "Abc1!",
			wantErr:  true,
			errMsg:   "Password must be at least 8 characters long",
		},
		{
			name:     "Password without uppercase should fail validation",
			password: "securepass123!",
			wantErr:  true,
			errMsg:   composition,
		},
		{
			name:     "Password without lowercase should fail validation",
			password: "SECUREPASS123!",
			wantErr:  true,
			errMsg:   composition,
		},
		{
			name:     "Password without digits should fail validation",
			password: "SecurePass!",
			wantErr:  true,
			errMsg:   composition,
		},
		{
			name:     "Symbol outside the allowed set should fail validation",
			password: "SecurePass123#",
			wantErr:  true,
			errMsg:   composition,
		},
		{
			name:     "Password longer than bcrypt reads should fail validation",
			password: "Aa1!" + strings.Repeat("x", 69),
			wantErr:  true,
			errMsg:   "Password must be at most 72 bytes long",
		},
		{
			name:     "Empty password should fail validation",
			password: "",
			wantErr:  true,
			errMsg:   "Password is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := utils.ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && err.Error() != tt.errMsg {
				t.Errorf("ValidatePassword() error message = %v, want %v", err.Error(), tt.errMsg)
			}
		})
	}
}
