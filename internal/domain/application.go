package domain

import "time"

// DefaultOrgID owns applications created without an explicit organization.
const DefaultOrgID = "org_default"

type Application struct {
	ID        string
	OrgID     string
	UID       *string
	Name      string
	RateLimit *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Application) Validate() error {
	if a.Name == "" {
		return ErrValidationf("name is required")
	}
	if a.UID != nil {
		if err := ValidateLimitedString("uid", *a.UID); err != nil {
			return err
		}
	}
	if a.RateLimit != nil && *a.RateLimit < 0 {
		return ErrValidationf("rateLimit must not be negative")
	}
	return nil
}

// ApplicationSnapshot is an application together with its live endpoints,
// the unit the delivery pipeline reads per message.
type ApplicationSnapshot struct {
	Application Application
	Endpoints   []Endpoint
}

func (s *ApplicationSnapshot) Endpoint(id string) (*Endpoint, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Endpoints {
		if s.Endpoints[i].ID == id {
			return &s.Endpoints[i], true
		}
	}
	return nil, false
}
