package services

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/you/accountportal/domain"
)

// CasbinEnforcerWrapper wraps the real Casbin enforcer to implement our interface
type CasbinEnforcerWrapper struct {
	enforcer *casbin.Enforcer
}

// NewCasbinEnforcerWrapper creates a wrapper for the real Casbin enforcer
func NewCasbinEnforcerWrapper(enforcer *casbin.Enforcer) domain.CasbinEnforcer {
	return &CasbinEnforcerWrapper{enforcer: enforcer}
}

func (w *CasbinEnforcerWrapper) AddPolicy(params ...interface{}) (bool, error) {
	return w.enforcer.AddPolicy(params...)
}

func (w *CasbinEnforcerWrapper) RemovePolicy(params ...interface{}) (bool, error) {
	return w.enforcer.RemovePolicy(params...)
}

func (w *CasbinEnforcerWrapper) Enforce(rvals ...interface{}) (bool, error) {
	return w.enforcer.Enforce(rvals...)
}

func (w *CasbinEnforcerWrapper) GetPolicy() ([][]string, error) {
	return w.enforcer.GetPolicy()
}

// signedOutRoutes may be visited before a session exists
var signedOutRoutes = [][2]string{
	{"/session", "GET"},
	{"/session/identify", "POST"},
	{"/session/pending", "GET"},
	{"/session/login", "POST"},
	{"/session/signup", "POST"},
	{"/session/logout", "POST"},
	{"/session/events", "GET"},
	{"/avatars", "GET"},
}

// signedInRoutes may be visited once a session exists
var signedInRoutes = [][2]string{
	{"/session", "GET"},
	{"/session/profile", "POST"},
	{"/session/logout", "POST"},
	{"/session/events", "GET"},
	{"/profiles", "(GET|POST)"},
	{"/profiles/:id", "PUT"},
	{"/avatars", "GET"},
}

// DefaultNavigationRules returns the rules seeded into an empty policy store
func DefaultNavigationRules() [][]string {
	var rules [][]string
	for _, state := range []domain.SessionState{domain.StateAnonymous, domain.StatePendingCredential} {
		for _, r := range signedOutRoutes {
			rules = append(rules, []string{Subject(state), r[0], r[1]})
		}
	}
	for _, state := range []domain.SessionState{domain.StateAuthenticated, domain.StateProfileSelected} {
		for _, r := range signedInRoutes {
			rules = append(rules, []string{Subject(state), r[0], r[1]})
		}
	}
	return rules
}

// Subject converts a lifecycle state to its Casbin subject
func Subject(state domain.SessionState) string {
	return "state_" + string(state)
}

// NavigationPolicyImpl implements domain.NavigationPolicy using Casbin
type NavigationPolicyImpl struct {
	enforcer domain.CasbinEnforcer
}

// NewNavigationPolicy creates a new navigation policy
func NewNavigationPolicy(enforcer *casbin.Enforcer) domain.NavigationPolicy {
	return &NavigationPolicyImpl{
		enforcer: NewCasbinEnforcerWrapper(enforcer),
	}
}

// NewNavigationPolicyWithEnforcer creates a navigation policy over a CasbinEnforcer interface (for testing)
func NewNavigationPolicyWithEnforcer(enforcer domain.CasbinEnforcer) domain.NavigationPolicy {
	return &NavigationPolicyImpl{
		enforcer: enforcer,
	}
}

// SeedDefaults installs DefaultNavigationRules when the policy store is empty.
// It reports whether anything was seeded.
func SeedDefaults(policy domain.NavigationPolicy) (bool, error) {
	existing, err := policy.Rules()
	if err != nil {
		return false, fmt.Errorf("failed to read navigation rules: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}
	for _, rule := range DefaultNavigationRules() {
		state := domain.SessionState(strings.TrimPrefix(rule[0], "state_"))
		if err := policy.AddRule(state, rule[1], rule[2]); err != nil {
			return false, fmt.Errorf("failed to seed navigation rule %v: %w", rule, err)
		}
	}
	return true, nil
}

// AddRule implements domain.NavigationPolicy
func (p *NavigationPolicyImpl) AddRule(state domain.SessionState, route, method string) error {
	_, err := p.enforcer.AddPolicy(Subject(state), route, method)
	return err
}

// RemoveRule implements domain.NavigationPolicy
func (p *NavigationPolicyImpl) RemoveRule(state domain.SessionState, route, method string) error {
	_, err := p.enforcer.RemovePolicy(Subject(state), route, method)
	return err
}

// Allow implements domain.NavigationPolicy
func (p *NavigationPolicyImpl) Allow(state domain.SessionState, route, method string) (bool, error) {
	return p.enforcer.Enforce(Subject(state), route, method)
}

// Rules implements domain.NavigationPolicy
func (p *NavigationPolicyImpl) Rules() ([][]string, error) {
	return p.enforcer.GetPolicy()
}
