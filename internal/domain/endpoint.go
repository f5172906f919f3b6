package domain

import (
	"net/url"
	"time"
)

const (
	// MaxOldSigningKeys bounds how many rotated keys stay valid.
	MaxOldSigningKeys = 5
	// OldSigningKeyTTL is how long a rotated key keeps signing.
	OldSigningKeyTTL = 24 * time.Hour
)

// OldSigningKey is a rotated endpoint key that still signs until Expiration.
type OldSigningKey struct {
	Key        string    `json:"key"`
	Expiration time.Time `json:"expiration"`
}

// Endpoint is a destination URL registered on an application. Key holds the
// text form of the current signing key (whsec_ or whsk_ prefixed).
type Endpoint struct {
	ID          string
	AppID       string
	UID         *string
	URL         string
	Description string
	Key         string
	OldKeys     []OldSigningKey
	EventTypes  []string
	Channels    []string
	Headers     map[string]string
	Disabled    bool
	Deleted     bool
	RateLimit   *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (e *Endpoint) Validate() error {
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrValidationf("url must be an absolute http(s) URL")
	}
	if e.UID != nil {
		if err := ValidateLimitedString("uid", *e.UID); err != nil {
			return err
		}
	}
	if e.EventTypes != nil {
		if err := validateStringSet("filterTypes", e.EventTypes, 1, len(e.EventTypes)); err != nil {
			return err
		}
	}
	if e.Channels != nil {
		if err := validateStringSet("channels", e.Channels, 1, MaxEndpointChannels); err != nil {
			return err
		}
	}
	if e.RateLimit != nil && *e.RateLimit < 0 {
		return ErrValidationf("rateLimit must not be negative")
	}
	if e.Key == "" {
		return ErrValidationf("signing key is required")
	}
	return ValidateHeaders(e.Headers)
}

// SigningKeys returns the current key followed by every old key that has not
// expired at now.
func (e *Endpoint) SigningKeys(now time.Time) []string {
	keys := make([]string, 0, 1+len(e.OldKeys))
	keys = append(keys, e.Key)
	for _, old := range e.OldKeys {
		if now.Before(old.Expiration) {
			keys = append(keys, old.Key)
		}
	}
	return keys
}

// RotateKey makes newKey current. The previous key stays valid for
// OldSigningKeyTTL and at most MaxOldSigningKeys old keys are retained.
func (e *Endpoint) RotateKey(newKey string, now time.Time) {
	kept := make([]OldSigningKey, 0, len(e.OldKeys)+1)
	for _, old := range e.OldKeys {
		if now.Before(old.Expiration) {
			kept = append(kept, old)
		}
	}
	kept = append(kept, OldSigningKey{Key: e.Key, Expiration: now.Add(OldSigningKeyTTL)})
	if len(kept) > MaxOldSigningKeys {
		kept = kept[len(kept)-MaxOldSigningKeys:]
	}
	e.OldKeys = kept
	e.Key = newKey
}

// Live reports whether the endpoint may receive deliveries at all.
func (e *Endpoint) Live() bool {
	return !e.Disabled && !e.Deleted
}
