package domain

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	IdentifierLength     = 10
	MaxDisplayNameLength = 20
	MinSecretLength      = 6
)

// ValidateIdentifier checks the fixed-length numeric mobile number format
func ValidateIdentifier(identifier string) error {
	if len(identifier) != IdentifierLength {
		return ErrInvalidIdentifier
	}
	for i := 0; i < len(identifier); i++ {
		if identifier[i] < '0' || identifier[i] > '9' {
			return ErrInvalidIdentifier
		}
	}
	return nil
}

// ValidateSecret rejects secrets shorter than MinSecretLength
func ValidateSecret(secret string) error {
	if utf8.RuneCountInString(secret) < MinSecretLength {
		return ErrInvalidSecret
	}
	return nil
}

// NormalizeDisplayName trims the name and enforces its length bounds
func NormalizeDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 || n > MaxDisplayNameLength {
		return "", ErrInvalidProfileName
	}
	return trimmed, nil
}

// Validate checks the structure of a cached snapshot. An invalid snapshot is never treated as a session.
func (s *SessionSnapshot) Validate() error {
	if err := ValidateIdentifier(s.Identifier); err != nil {
		return err
	}
	if len(s.Profiles) == 0 || len(s.Profiles) > MaxProfiles {
		return ErrUnknownProfile
	}
	seen := make(map[string]struct{}, len(s.Profiles))
	for _, p := range s.Profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return ErrUnknownProfile
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Validate checks a profile's id and display name
func (p Profile) Validate() error {
	if p.ID == "" {
		return ErrUnknownProfile
	}
	if _, err := NormalizeDisplayName(p.DisplayName); err != nil {
		return err
	}
	return nil
}

// Validate checks the transitional identification entry
func (p *PendingIdentification) Validate() error {
	return ValidateIdentifier(p.Identifier)
}

// Validate checks the cached profile selection
func (s *ProfileSelection) Validate() error {
	return s.Profile.Validate()
}

// Validate rejects verdicts whose score falls outside [0, 1]
func (a RiskAssessment) Validate() error {
	if math.IsNaN(a.Score) || a.Score < 0 || a.Score > 1 {
		return fmt.Errorf("%w: score %v out of range", ErrEvaluatorUnavailable, a.Score)
	}
	return nil
}
