package httpclient

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should not be empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg:  Config{Timeout: time.Second, UserAgent: "test/1.0"},
		},
		{
			name:    "zero timeout",
			cfg:     Config{Timeout: 0, UserAgent: "test/1.0"},
			wantErr: "timeout must be > 0",
		},
		{
			name:    "negative timeout",
			cfg:     Config{Timeout: -time.Second, UserAgent: "test/1.0"},
			wantErr: "timeout must be > 0",
		},
		{
			name:    "empty user agent",
			cfg:     Config{Timeout: time.Second},
			wantErr: "user_agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New should reject a zero config")
	}

	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New(DefaultConfig()) failed: %v", err)
	}
	if c.Timeout != 30*time.Second {
		t.Errorf("client timeout = %v, want 30s", c.Timeout)
	}
}
