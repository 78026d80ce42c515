package security

import "testing"

func TestValidateSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"strong random secret", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6", false},
		{"minimum length random", "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS", false},
		{"too short", "kJ8mN2pQ5tR7", true},
		{"empty", "", true},
		{"placeholder", "replace-with-secret-must-be-at-least-32-chars-long", true},
		{"contains password", "my-password-is-long-enough-for-the-check-xyz", true},
		{"low entropy", "abababababababababababababababababab", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecret(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		secret, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret() error = %v", err)
		}
		if len(secret) != 48 {
			t.Errorf("GenerateSecret() length = %d, want 48", len(secret))
		}
		if err := ValidateSecret(secret); err != nil {
			t.Errorf("generated secret failed validation: %v", err)
		}
		if seen[secret] {
			t.Error("GenerateSecret() produced a duplicate")
		}
		seen[secret] = true
	}
}

func TestIsWeakPassword(t *testing.T) {
	tests := []struct {
		password string
		weak     bool
	}{
		{"changeit", true},
		{"CHANGEIT", true},
		{"short", true},
		{"aaaaaaaaaaaa", true},
		{"Tr0ub4dor&3-horse", false},
	}

	for _, tt := range tests {
		if got := IsWeakPassword(tt.password); got != tt.weak {
			t.Errorf("IsWeakPassword(%q) = %v, want %v", tt.password, got, tt.weak)
		}
	}
}

func TestCalculateEntropy(t *testing.T) {
	tests := []struct {
		input    string
		min, max float64
	}{
		{"", 0, 0},
		{"aaaaaaa", 0, 0},
		{"ababababab", 1, 1},
		{"abcdefghij", 3, 4},
	}

	for _, tt := range tests {
		got := calculateEntropy(tt.input)
		if got < tt.min || got > tt.max {
			t.Errorf("calculateEntropy(%q) = %.2f, want between %.2f and %.2f", tt.input, got, tt.min, tt.max)
		}
	}
}
