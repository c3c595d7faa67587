package domain

import "time"

const (
	// MaxProfiles bounds the number of profiles an account may hold
	MaxProfiles = 5

	// RestrictedProfileID is reserved for the kids profile; it can never be edited or generated
	RestrictedProfileID = "kids"
)

// SessionState is the lifecycle state of a device session
type SessionState string

const (
	StateAnonymous         SessionState = "anonymous"
	StatePendingCredential SessionState = "pending_credential"
	StateAuthenticated     SessionState = "authenticated"
	StateProfileSelected   SessionState = "profile_selected"
)

// SignedIn reports whether the state carries an authenticated account
func (s SessionState) SignedIn() bool {
	return s == StateAuthenticated || s == StateProfileSelected
}

// Profile is a viewer profile inside an account
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
}

// Account is the authoritative record kept in the AccountStore, keyed by mobile number
type Account struct {
	Identifier       string
	CredentialSecret string
	Profiles         []Profile
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Revision         int64
}

// FindProfile returns the index of the profile with the given id, or -1
func (a *Account) FindProfile(profileID string) int {
	for i := range a.Profiles {
		if a.Profiles[i].ID == profileID {
			return i
		}
	}
	return -1
}

// Snapshot derives the cacheable view of the account. The credential secret never leaves here.
func (a *Account) Snapshot() *SessionSnapshot {
	profiles := make([]Profile, len(a.Profiles))
	copy(profiles, a.Profiles)
	return &SessionSnapshot{
		Identifier: a.Identifier,
		Profiles:   profiles,
		CreatedAt:  a.CreatedAt,
		Revision:   a.Revision,
	}
}

// SessionSnapshot is the account as cached for an authenticated device
type SessionSnapshot struct {
	Identifier        string    `json:"identifier"`
	Profiles          []Profile `json:"profiles"`
	CreatedAt         time.Time `json:"created_at"`
	Revision          int64     `json:"revision"`
	SelectedProfileID string    `json:"selected_profile_id,omitempty"`
}

// HasProfile reports whether the snapshot contains the given profile id
func (s *SessionSnapshot) HasProfile(profileID string) bool {
	_, ok := s.Profile(profileID)
	return ok
}

// Profile looks up a profile by id
func (s *SessionSnapshot) Profile(profileID string) (Profile, bool) {
	for _, p := range s.Profiles {
		if p.ID == profileID {
			return p, true
		}
	}
	return Profile{}, false
}

// PendingIdentification is the transitional entry kept while a credential step is outstanding
type PendingIdentification struct {
	Identifier string    `json:"identifier"`
	Exists     bool      `json:"exists"`
	StartedAt  time.Time `json:"started_at"`
}

// ProfileSelection is the cached profile chosen for the active browsing session
type ProfileSelection struct {
	Profile    Profile   `json:"profile"`
	SelectedAt time.Time `json:"selected_at"`
}

// SessionView is what ResumeSession and SelectProfile report back to presentation
type SessionView struct {
	State             SessionState     `json:"state"`
	Snapshot          *SessionSnapshot `json:"account,omitempty"`
	SelectedProfile   *Profile         `json:"selected_profile,omitempty"`
	PendingIdentifier string           `json:"pending_identifier,omitempty"`
}

// NextStep tells presentation where identification leads
type NextStep string

const (
	NextStepPassword NextStep = "password"
	NextStepSignup   NextStep = "signup"
)

// IdentificationResult is the outcome of BeginIdentification
type IdentificationResult struct {
	Identifier string   `json:"identifier"`
	Exists     bool     `json:"exists"`
	Next       NextStep `json:"next"`
}

// RiskAssessment is the verdict returned by a RiskEvaluator
type RiskAssessment struct {
	Suspicious bool    `json:"suspicious"`
	Reason     string  `json:"reason"`
	Score      float64 `json:"score"`
}

// RiskUnavailableReason is reported when no evaluator produced a verdict
const RiskUnavailableReason = "unavailable"

// UnavailableAssessment is the verdict substituted when the evaluator fails or times out
func UnavailableAssessment() RiskAssessment {
	return RiskAssessment{Suspicious: false, Reason: RiskUnavailableReason, Score: 0}
}

// AuthResult is the outcome of a successful Authenticate or CreateAccount
type AuthResult struct {
	Account     *SessionSnapshot `json:"account"`
	RiskFlagged bool             `json:"risk_flagged"`
	Reason      string           `json:"reason"`
	RiskScore   float64          `json:"risk_score"`
}

// AvatarOption is an entry of the closed avatar catalog
type AvatarOption struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
}
