package domain

import "time"

// Profile holds the preferences kept for one person. There is at most one
// profile per PersonID.
type Profile struct {
	PersonID     string         `json:"person_id,omitempty"`
	Locale       string         `json:"locale,omitempty"`
	Preferences  map[string]any `json:"preferences"`
	Dashboard    map[string]any `json:"dashboard"`
	Voice        *VoiceSettings `json:"voice,omitempty"`
	PaymentGroup string         `json:"payment_group,omitempty"`
	PolicyGroup  string         `json:"policy_group,omitempty"`
	// Auth carries credential hints (PINs and the like). It is stored like
	// every other field but always masked in logs.
	Auth      map[string]any  `json:"auth"`
	Devices   *DeviceProfiles `json:"devices,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// VoiceSettings configures speech output for a person.
type VoiceSettings struct {
	VoiceID string  `json:"voice_id,omitempty"`
	Rate    float64 `json:"rate,omitempty"`
	Pitch   float64 `json:"pitch,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
}

// DeviceProfiles is the namespace for specialised input devices.
type DeviceProfiles struct {
	BCI *BCIProfile `json:"bci,omitempty"`
}

// BCIProfile describes brain-computer-interface settings. Calibration data
// lives outside the store; only references to it are kept here.
type BCIProfile struct {
	Devices         []BCIDevice        `json:"devices,omitempty"`
	ControlScheme   string             `json:"control_scheme,omitempty"`
	Thresholds      map[string]float64 `json:"thresholds"`
	Decoder         map[string]any     `json:"decoder"`
	CalibrationRefs []string           `json:"calibration_refs,omitempty"`
}

// BCIDevice is one headset or implant paired with the person.
type BCIDevice struct {
	ID       string `json:"id"`
	Model    string `json:"model,omitempty"`
	Channels int    `json:"channels,omitempty"`
}
