package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"compensation-checker/internal/domain"
)

const (
	KeyFlightNumber  = "FLIGHT_NUMBER"
	KeyDepartureDate = "DEPARTURE_DATE"
	KeyAirlineCode   = "AIRLINE_CODE"
	KeyName          = "NAME"
	KeySurname       = "SURNAME"
	KeyEmail         = "EMAIL"
	KeyBookingCode   = "BOOKING_CODE"
)

// RequiredKeys lists every setting a claim check needs, in lookup order.
var RequiredKeys = []string{
	KeyFlightNumber,
	KeyDepartureDate,
	KeyAirlineCode,
	KeyName,
	KeySurname,
	KeyEmail,
	KeyBookingCode,
}

// MissingError reports a required setting that no source provided.
type MissingError struct {
	Key string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("config: required setting %q is not set", e.Key)
}

// Source resolves a single setting. ok is false when the source has no value.
type Source interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// LookupFunc adapts a plain lookup such as os.LookupEnv to a Source.
type LookupFunc func(key string) (string, bool)

func (f LookupFunc) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := f(key)
	return v, ok, nil
}

// Env returns a Source backed by the process environment.
func Env() Source {
	return LookupFunc(os.LookupEnv)
}

// Loader resolves the claim settings from an ordered list of sources.
// The first source with a non-empty value wins.
type Loader struct {
	sources []Source
}

func NewLoader(sources ...Source) (*Loader, error) {
	if len(sources) == 0 {
		return nil, errors.New("config: at least one source is required")
	}
	for i, s := range sources {
		if s == nil {
			return nil, fmt.Errorf("config: source %d must not be nil", i)
		}
	}
	return &Loader{sources: sources}, nil
}

// Values returns all required settings keyed by name, or a *MissingError for
// the first one that is absent or empty in every source.
func (l *Loader) Values(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string, len(RequiredKeys))
	for _, key := range RequiredKeys {
		v, err := l.lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		values[key] = v
	}
	return values, nil
}

// Load resolves the required settings into a domain.Claim.
func (l *Loader) Load(ctx context.Context) (domain.Claim, error) {
	v, err := l.Values(ctx)
	if err != nil {
		return domain.Claim{}, err
	}
	return domain.Claim{
		Flight: domain.Flight{
			Number:        v[KeyFlightNumber],
			DepartureDate: v[KeyDepartureDate],
			AirlineCode:   v[KeyAirlineCode],
		},
		Passenger: domain.Passenger{
			Name:        v[KeyName],
			Surname:     v[KeySurname],
			Email:       v[KeyEmail],
			BookingCode: v[KeyBookingCode],
		},
	}, nil
}

func (l *Loader) lookup(ctx context.Context, key string) (string, error) {
	for _, s := range l.sources {
		v, ok, err := s.Lookup(ctx, key)
		if err != nil {
			return "", fmt.Errorf("config: lookup %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", &MissingError{Key: key}
}
