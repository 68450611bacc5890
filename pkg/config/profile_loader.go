package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// JurisdictionProfile carries per-jurisdiction certification policy.
type JurisdictionProfile struct {
	Name          string          `yaml:"name" json:"name"`
	Code          string          `yaml:"code" json:"code"`
	Frameworks    []string        `yaml:"frameworks" json:"frameworks"`
	DataResidency string          `yaml:"data_residency" json:"data_residency"`
	Escalation    EscalationRules `yaml:"escalation" json:"escalation"`
	Directory     DirectoryRules  `yaml:"directory" json:"directory"`
	Retention     RetentionRules  `yaml:"retention" json:"retention"`
}

// EscalationRules tunes the incident escalation sweep per jurisdiction.
type EscalationRules struct {
	WindowHours   int  `yaml:"window_hours" json:"window_hours"`
	NotifyCitizen bool `yaml:"notify_citizen" json:"notify_citizen"`
}

// Window returns the escalation window as a duration, or 0 if unset.
func (r EscalationRules) Window() time.Duration {
	return time.Duration(r.WindowHours) * time.Hour
}

// DirectoryRules controls the public certification directory.
type DirectoryRules struct {
	ListCertifiedOnly bool `yaml:"list_certified_only" json:"list_certified_only"`
	ShowTier          bool `yaml:"show_tier" json:"show_tier"`
}

// RetentionRules defines data retention policy.
type RetentionRules struct {
	LedgerDays   int `yaml:"ledger_days" json:"ledger_days"`
	IncidentDays int `yaml:"incident_days" json:"incident_days"`
}

// LoadProfile loads a jurisdiction profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*JurisdictionProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile JurisdictionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*JurisdictionProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*JurisdictionProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile JurisdictionProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}
