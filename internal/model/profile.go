package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SupplierProfile is a supplier's tender-matching preferences.
type SupplierProfile struct {
	ID                  int64    `json:"id" yaml:"id"`
	UserID              string   `json:"user_id,omitempty" yaml:"user_id"`
	CompanyName         string   `json:"company_name" yaml:"company_name"`
	RegistrationNumber  string   `json:"registration_number" yaml:"registration_number"`
	BBBEELevel          string   `json:"bbbee_level" yaml:"bbbee_level"`
	ContactEmail        string   `json:"contact_email" yaml:"contact_email"`
	ContactPhone        string   `json:"contact_phone" yaml:"contact_phone"`
	Province            string   `json:"province" yaml:"province"`
	City                string   `json:"city" yaml:"city"`
	PreferredCPVCodes   []string `json:"preferred_cpv_codes" yaml:"preferred_cpv_codes"`
	PreferredBuyers     []string `json:"preferred_buyers" yaml:"preferred_buyers"`
	MinValue            float64  `json:"min_value" yaml:"min_value"`
	MaxValue            float64  `json:"max_value" yaml:"max_value"`
	NotifyEmail         bool     `json:"notify_email" yaml:"notify_email"`
	NotifySMS           bool     `json:"notify_sms" yaml:"notify_sms"`
	NotifyWhatsApp      bool     `json:"notify_whatsapp" yaml:"notify_whatsapp"`
	NotificationsPaused bool     `json:"notifications_paused" yaml:"notifications_paused"`
}

// AnonymousProfile returns the profile used when no supplier is signed in.
// It is a value, never persisted implicitly.
func AnonymousProfile() SupplierProfile {
	return SupplierProfile{
		CompanyName:        "TechVentures (Pty) Ltd",
		RegistrationNumber: "2019/123456/07",
		BBBEELevel:         "Level 2",
		ContactEmail:       "procurement@techventures.co.za",
		ContactPhone:       "+27 11 555 0123",
		Province:           "Gauteng",
		City:               "Johannesburg",
		PreferredCPVCodes:  []string{"72000000", "33000000"},
		PreferredBuyers:    []string{"Gauteng Department of Health", "City of Johannesburg"},
		MinValue:           500000,
		MaxValue:           50000000,
		NotifyEmail:        true,
		NotifyWhatsApp:     true,
	}
}

// NewUserProfile returns the defaults for a supplier's first profile.
func NewUserProfile(userID, email string) SupplierProfile {
	return SupplierProfile{
		UserID:            userID,
		CompanyName:       "New Supplier",
		ContactEmail:      email,
		PreferredCPVCodes: []string{},
		PreferredBuyers:   []string{},
		MinValue:          0,
		MaxValue:          100000000,
		NotifyEmail:       true,
	}
}

// LoadProfiles reads a YAML list of supplier profiles. Keys a profile omits
// keep the new-supplier defaults, so a missing max_value stays open-ended.
func LoadProfiles(path string) ([]SupplierProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read profiles %s", path)
	}

	var wrapper struct {
		Profiles []yaml.Node `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "model: parse profiles")
	}

	profiles := make([]SupplierProfile, 0, len(wrapper.Profiles))
	for i := range wrapper.Profiles {
		p := NewUserProfile("", "")
		p.CompanyName = ""
		if err := wrapper.Profiles[i].Decode(&p); err != nil {
			return nil, eris.Wrapf(err, "model: parse profile %d", i)
		}
		if p.CompanyName == "" {
			return nil, eris.Errorf("model: profile %d has no company_name", i)
		}
		if p.MaxValue != 0 && p.MinValue > p.MaxValue {
			return nil, eris.Errorf("model: profile %q has min_value above max_value", p.CompanyName)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
