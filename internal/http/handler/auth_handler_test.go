package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/skycast-app/skycast/internal/cache"
	"github.com/skycast-app/skycast/internal/database"
	"github.com/skycast-app/skycast/internal/http/handler"
	"github.com/skycast-app/skycast/internal/http/router"
	"github.com/skycast-app/skycast/internal/repository"
	"github.com/skycast-app/skycast/internal/security"
	"github.com/skycast-app/skycast/internal/service"
	"github.com/skycast-app/skycast/internal/weather"
)

const (
	testAccessTTL  = 10 * time.Minute
	testRefreshTTL = 14 * 24 * time.Hour
)

// newAPIForTest wires the full request path: router, handlers, auth service,
// and sqlite-backed repositories.
func newAPIForTest(t *testing.T, weatherURL string) http.Handler {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	jwtMgr := security.NewJWTManager("skycast-test", "skycast-clients", "0123456789abcdef0123456789abcdef")
	auth := service.NewAuthService(
		repository.NewUserRepository(db),
		repository.NewSessionRepository(db),
		jwtMgr,
		"handler-test-pepper",
		testAccessTTL,
		testRefreshTTL,
	)

	wx := weather.NewService(weather.NewClient(weatherURL, "test-key"), cache.New(nil), 0)

	return router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(auth, testRefreshTTL, false),
		UserHandler:      handler.NewUserHandler(),
		WeatherHandler:   handler.NewWeatherHandler(wx),
		JWTManager:       jwtMgr,
		APIRateLimitRPM:  1000,
		AuthRateLimitRPM: 1000,
	})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, api http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:40000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
	}
	return env
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == security.RefreshCookieName {
			return c
		}
	}
	t.Fatal("expected a refresh_token cookie")
	return nil
}

func registerAndLogin(t *testing.T, api http.Handler, email, password string) (accessToken string, cookie *http.Cookie) {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/register", body); rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &data); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return data.AccessToken, refreshCookie(t, rec)
}

func TestRegisterLoginAndMe(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")

	access, cookie := registerAndLogin(t, api, "carol@example.com", "Str0ngpass")
	if access == "" {
		t.Fatal("expected an access token")
	}

	if !cookie.HttpOnly {
		t.Fatal("refresh cookie must be http-only")
	}
	if cookie.Path != security.RefreshCookiePath {
		t.Fatalf("unexpected cookie path %q", cookie.Path)
	}
	if cookie.Secure {
		t.Fatal("secure flag must be off outside production")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var me struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "carol@example.com" {
		t.Fatalf("unexpected email %q", me.Email)
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")

	body := `{"email":"dup@example.com","password":"Str0ngpass"}`
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/register", body); rec.Code != http.StatusCreated {
		t.Fatalf("first register: expected 201, got %d", rec.Code)
	}
	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/register", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second register: expected 409, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "CONFLICT" {
		t.Fatalf("unexpected error envelope %+v", env.Error)
	}
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/register",
		`{"email":"a@example.com","password":"Str0ngpass","role":"admin"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error envelope %+v", env.Error)
	}
}

func TestLoginBadPasswordIsUnauthorized(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")
	registerAndLogin(t, api, "dave@example.com", "Str0ngpass")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login",
		`{"email":"dave@example.com","password":"Wr0ngpass!"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Message != "authentication failed" {
		t.Fatalf("unexpected error envelope %+v", env.Error)
	}
}

func TestRefreshRotatesCookie(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")
	_, cookie := registerAndLogin(t, api, "erin@example.com", "Str0ngpass")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/refresh", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rotated := refreshCookie(t, rec)
	if rotated.Value == cookie.Value {
		t.Fatal("refresh must issue a new refresh token")
	}

	// The rotated token keeps working.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/refresh", "", rotated)
	if rec.Code != http.StatusOK {
		t.Fatalf("second refresh: expected 200, got %d", rec.Code)
	}
}

func TestRefreshWithoutCookieIsUnauthorized(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/refresh", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRefreshReuseIsRejected(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")
	_, cookie := registerAndLogin(t, api, "frank@example.com", "Str0ngpass")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/refresh", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", rec.Code)
	}
	rotated := refreshCookie(t, rec)

	// Replaying the consumed token fails and poisons its replacement.
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/refresh", "", cookie); rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/refresh", "", rotated); rec.Code != http.StatusUnauthorized {
		t.Fatalf("descendant after replay: expected 401, got %d", rec.Code)
	}
}

func TestLogoutIsIdempotentAndClearsCookie(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")
	_, cookie := registerAndLogin(t, api, "grace@example.com", "Str0ngpass")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/logout", "", cookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}
	cleared := refreshCookie(t, rec)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("logout must clear the cookie, got value=%q max-age=%d", cleared.Value, cleared.MaxAge)
	}

	// Second logout with the same (now dead) token still answers 204.
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/logout", "", cookie); rec.Code != http.StatusNoContent {
		t.Fatalf("repeat logout: expected 204, got %d", rec.Code)
	}
	// And so does a logout with no cookie at all.
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/logout", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("cookieless logout: expected 204, got %d", rec.Code)
	}

	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/refresh", "", cookie); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rec.Code)
	}
}

func TestLogoutAllKillsEverySession(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")
	access, first := registerAndLogin(t, api, "heidi@example.com", "Str0ngpass")

	// Second login from another device.
	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login",
		`{"email":"heidi@example.com","password":"Str0ngpass"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second login: expected 200, got %d", rec.Code)
	}
	second := refreshCookie(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout-all", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Authorization", "Bearer "+access)
	out := httptest.NewRecorder()
	api.ServeHTTP(out, req)
	if out.Code != http.StatusNoContent {
		t.Fatalf("logout-all: expected 204, got %d (%s)", out.Code, out.Body.String())
	}

	for i, c := range []*http.Cookie{first, second} {
		if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/refresh", "", c); rec.Code != http.StatusUnauthorized {
			t.Fatalf("session %d: expected 401 after logout-all, got %d", i+1, rec.Code)
		}
	}

	// Access tokens are verified statelessly, so a repeat call with the
	// still-unexpired token is accepted and remains a no-op 204.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout-all", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Authorization", "Bearer "+access)
	out = httptest.NewRecorder()
	api.ServeHTTP(out, req)
	if out.Code != http.StatusNoContent {
		t.Fatalf("repeat logout-all: expected 204, got %d", out.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")

	for _, path := range []string{"/api/v1/me", "/api/v1/weather?city=Miami&state=FL"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:40000"
		rec := httptest.NewRecorder()
		api.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without a token, got %d", path, rec.Code)
		}
	}
}

func TestWeatherEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geo/1.0/direct", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"Austin","lat":30.27,"lon":-97.74,"country":"US","state":"Texas"}]`))
	})
	mux.HandleFunc("/data/2.5/weather", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"main":{"temp":35.1,"feels_like":38.0},"weather":[{"description":"sunny","icon":"01d"}],"wind":{"speed":2.2}}`))
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	api := newAPIForTest(t, upstream.URL)
	access, _ := registerAndLogin(t, api, "ivan@example.com", "Str0ngpass")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/weather?city=Austin&state=tx", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("weather: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var report struct {
		Location string  `json:"location"`
		Temp     float64 `json:"temp"`
		Cached   bool    `json:"cached"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &report); err != nil {
		t.Fatalf("decode weather: %v", err)
	}
	if report.Location != "Austin, Texas" || report.Temp != 35.1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Cached {
		t.Fatal("cacheless lookup must report cached=false")
	}
}

func TestWeatherValidation(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")
	access, _ := registerAndLogin(t, api, "judy@example.com", "Str0ngpass")

	cases := []string{
		"/api/v1/weather?state=FL",
		"/api/v1/weather?city=Miami&state=Florida",
		"/api/v1/weather?city=Miami&state=F1",
		"/api/v1/weather?city=Miami&state=FL&units=kelvin",
	}
	for _, path := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:40000"
		req.Header.Set("Authorization", "Bearer "+access)
		rec := httptest.NewRecorder()
		api.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newAPIForTest(t, "http://unused.invalid")

	rec := doJSON(t, api, http.MethodGet, "/health/live", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready with no check wired: expected 200, got %d", rec.Code)
	}
}
