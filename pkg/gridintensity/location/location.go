package location

import (
	"context"
	"fmt"
	"strings"
)

// Location identifies where a job draws its electricity from. It is produced
// by a geolocation collaborator and only read by the fetchers.
type Location struct {
	// Country is an ISO 3166-1 alpha-2 style code such as "GB" or "DK"
	Country string `json:"country" yaml:"country"`
	// Postal is the postal or zip code, empty when unknown
	Postal string `json:"postal,omitempty" yaml:"postal"`
}

// HasPostal reports whether a postal code is known for the location
func (l Location) HasPostal() bool {
	return strings.TrimSpace(l.Postal) != ""
}

func (l Location) String() string {
	if l.HasPostal() {
		return fmt.Sprintf("%s (%s)", l.Country, l.Postal)
	}
	return l.Country
}

// Resolver maps the running process to a Location, e.g. from an IP lookup
type Resolver interface {
	Resolve(ctx context.Context) (Location, error)
}

// Static is a Resolver that always returns the configured location
type Static struct {
	Location Location
}

// NewStatic normalizes the country code and returns a fixed resolver
func NewStatic(country, postal string) *Static {
	return &Static{Location: Location{
		Country: strings.ToUpper(strings.TrimSpace(country)),
		Postal:  strings.TrimSpace(postal),
	}}
}

func (s *Static) Resolve(ctx context.Context) (Location, error) {
	if s.Location.Country == "" {
		return Location{}, fmt.Errorf("no country configured for static location")
	}
	return s.Location, nil
}
