package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/http/middleware"
	"github.com/you/accountportal/internal/infrastructure/auth"
	"github.com/you/accountportal/internal/mocks"
	"github.com/you/accountportal/internal/services"
	"go.uber.org/zap"
)

const (
	testIdentifier = "9876543210"
	testSecret     = "secret123"
	testCookie     = "portal_device"
)

// testEnv is a gin engine with the portal middleware chain and mock collaborators
type testEnv struct {
	t      *testing.T
	engine *gin.Engine
	store  *mocks.MockAccountStore
	caches *mocks.MockSessionCacheProvider
	tokens *mocks.MockDeviceTokenService
	policy domain.NavigationPolicy
	cookie *http.Cookie
}

func createTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cas, err := auth.NewMemoryCasbinService("")
	if err != nil {
		t.Fatalf("failed to build enforcer: %v", err)
	}
	policy := services.NewNavigationPolicy(cas.E)
	if _, err := services.SeedDefaults(policy); err != nil {
		t.Fatalf("failed to seed navigation rules: %v", err)
	}

	env := &testEnv{
		t:      t,
		store:  mocks.NewMockAccountStore(),
		caches: mocks.NewMockSessionCacheProvider(),
		tokens: mocks.NewMockDeviceTokenService(),
		policy: policy,
	}
	portal := services.NewPortal(services.PortalDeps{
		Store:     env.store,
		Risk:      mocks.NewMockRiskEvaluator(),
		Passwords: mocks.NewMockPasswordService(),
		Audit:     mocks.NewMockAuditLogger(),
		Logger:    zap.NewNop(),
	}, services.PortalConfig{RiskTimeout: 200 * time.Millisecond, ReconcileOnResume: true})

	devmw := middleware.NewDeviceMW(env.tokens, testCookie, time.Hour, false)
	sessmw := middleware.NewSessionMW(portal, env.caches, policy)
	sh := NewSessionHandlers(50 * time.Millisecond)
	ph := NewProfileHandlers()

	r := gin.New()
	v := r.Group("/").Use(devmw.WithDevice(), sessmw.Guard())
	v.GET("/session", sh.Resume)
	v.POST("/session/identify", sh.Identify)
	v.GET("/session/pending", sh.Pending)
	v.POST("/session/login", sh.Login)
	v.POST("/session/signup", sh.Signup)
	v.POST("/session/profile", sh.SelectProfile)
	v.POST("/session/logout", sh.Logout)
	v.GET("/session/events", sh.Events)
	v.GET("/profiles", ph.List)
	v.POST("/profiles", ph.Add)
	v.PUT("/profiles/:id", ph.Edit)
	v.GET("/avatars", ph.Avatars)

	env.engine = r
	return env
}

// request sends a request carrying the device cookie from earlier responses
func (e *testEnv) request(method, path string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == testCookie {
			e.cookie = c
		}
	}
	return w
}

// deviceCache returns the mock cache of the device named by the current cookie
func (e *testEnv) deviceCache() *mocks.MockSessionCache {
	e.t.Helper()
	if e.cookie == nil {
		e.t.Fatal("no device cookie issued yet")
	}
	id, err := e.tokens.Validate(e.cookie.Value)
	if err != nil {
		e.t.Fatalf("invalid device cookie: %v", err)
	}
	return e.caches.Device(id)
}

func (e *testEnv) seedAccount() {
	e.store.Seed(&domain.Account{
		Identifier:       testIdentifier,
		CredentialSecret: "hashed_" + testSecret,
		Profiles: []domain.Profile{
			{ID: "p-1", DisplayName: "Alice", AvatarRef: "avatar1"},
			{ID: "p-2", DisplayName: "Bob", AvatarRef: "avatar2"},
		},
		CreatedAt: time.Now().UTC(),
		Revision:  1,
	})
}

// signIn identifies and logs in with the seeded account
func (e *testEnv) signIn() {
	e.t.Helper()
	e.seedAccount()
	if w := e.request(http.MethodPost, "/session/identify", gin.H{"identifier": testIdentifier}); w.Code != http.StatusOK {
		e.t.Fatalf("identify failed: %d %s", w.Code, w.Body.String())
	}
	if w := e.request(http.MethodPost, "/session/login", gin.H{"secret": testSecret}); w.Code != http.StatusOK {
		e.t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", w.Body.String(), err)
	}
	return body
}

// dataField digs into {"data": {...}}
func dataField(t *testing.T, w *httptest.ResponseRecorder, key string) interface{} {
	t.Helper()
	data, ok := decodeBody(t, w)["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %s", w.Body.String())
	}
	return data[key]
}
