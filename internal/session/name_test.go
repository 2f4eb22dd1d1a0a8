package session

import (
	"strings"
	"testing"

	"github.com/matheus3301/wpp-archive/internal/config"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main", "family", "work-2024", "old_phone", "0", strings.Repeat("x", 64)}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) error = %v", name, err)
		}
	}

	invalid := []string{"", "Family", "two words", "../etc", "a.b", "me@home", strings.Repeat("x", 65)}
	for _, name := range invalid {
		err := ValidateName(name)
		if err == nil {
			t.Errorf("ValidateName(%q) accepted", name)
			continue
		}
		if !strings.Contains(err.Error(), "invalid session name") {
			t.Errorf("ValidateName(%q) error = %q", name, err)
		}
	}
}

func TestResolve(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultSession = "family"

	tests := []struct {
		flag string
		cfg  *config.Config
		want string
	}{
		{"work", cfg, "work"},
		{"", cfg, "family"},
		{"", &config.Config{}, DefaultSessionName},
		{"", nil, DefaultSessionName},
	}
	for _, tt := range tests {
		if got := Resolve(tt.flag, tt.cfg); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.flag, got, tt.want)
		}
	}
}
