package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/gotta-go/internal/identity"
	"github.com/LeventeLantos/gotta-go/internal/kv"
	"github.com/LeventeLantos/gotta-go/internal/model"
	"github.com/LeventeLantos/gotta-go/internal/scheduler"
	"github.com/LeventeLantos/gotta-go/internal/service"
	"github.com/LeventeLantos/gotta-go/internal/store"
)

type fakeDispatch struct {
	err error
}

func (f *fakeDispatch) ScheduleCall(ctx context.Context, to string, when time.Time, audioURL string) error {
	return f.err
}

func (f *fakeDispatch) ScheduleText(ctx context.Context, to string, when time.Time, body string) (string, error) {
	return "msg-1", f.err
}

type fakeMaintenance struct {
	value model.Maintenance
}

func (f *fakeMaintenance) Current(ctx context.Context) model.Maintenance {
	return f.value
}

func (f *fakeMaintenance) Set(ctx context.Context, caller service.Caller, enabled bool, message string) (model.Maintenance, error) {
	if !caller.Admin {
		return model.Maintenance{}, service.ErrForbidden
	}
	f.value = model.Maintenance{Enabled: enabled, Message: message}
	return f.value, nil
}

// fakeIdentity accepts the tokens it was seeded with.
type fakeIdentity struct {
	sessions  map[string]identity.Session
	members   []model.Member
	resets    []string
	loggedOut []string
}

var _ Identity = (*fakeIdentity)(nil)

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{sessions: map[string]identity.Session{
		"user-token":  {UID: "u1", Email: "u@example.com"},
		"guest-token": {UID: "guest-1", Guest: true},
		"admin-token": {UID: "a1", Email: "admin@example.com", Admin: true},
	}}
}

func (f *fakeIdentity) Register(ctx context.Context, email, password, phone string) (string, identity.Session, error) {
	if email == "taken@example.com" {
		return "", identity.Session{}, identity.ErrEmailTaken
	}
	return "new-token", identity.Session{UID: "u2", Email: email}, nil
}

func (f *fakeIdentity) Login(ctx context.Context, email, password string) (string, identity.Session, error) {
	if password != "secret1" {
		return "", identity.Session{}, identity.ErrInvalidCredentials
	}
	return "user-token", f.sessions["user-token"], nil
}

func (f *fakeIdentity) Guest(ctx context.Context) (string, identity.Session, error) {
	return "guest-token", f.sessions["guest-token"], nil
}

func (f *fakeIdentity) Logout(ctx context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	delete(f.sessions, token)
	return nil
}

func (f *fakeIdentity) Authenticate(ctx context.Context, token string) (identity.Session, error) {
	s, ok := f.sessions[token]
	if !ok {
		return identity.Session{}, identity.ErrUnauthenticated
	}
	return s, nil
}

func (f *fakeIdentity) ResetPassword(ctx context.Context, email string) error {
	f.resets = append(f.resets, email)
	return nil
}

func (f *fakeIdentity) ConfirmReset(ctx context.Context, token, newPassword string) error {
	if token != "reset-token" {
		return identity.ErrInvalidResetToken
	}
	return nil
}

func (f *fakeIdentity) Profile(ctx context.Context, sess identity.Session) (model.Profile, error) {
	if sess.Guest {
		return model.Profile{}, identity.ErrGuestAccount
	}
	return model.Profile{UID: sess.UID, Email: sess.Email, IsAdmin: sess.Admin}, nil
}

func (f *fakeIdentity) UpdateEmail(ctx context.Context, uid, newEmail, currentPassword string) error {
	if currentPassword != "secret1" {
		return identity.ErrInvalidCredentials
	}
	return nil
}

func (f *fakeIdentity) UpdatePassword(ctx context.Context, uid, currentPassword, newPassword string) error {
	if currentPassword != "secret1" {
		return identity.ErrInvalidCredentials
	}
	return nil
}

func (f *fakeIdentity) DeleteAccount(ctx context.Context, uid, password string) error {
	if password != "secret1" {
		return identity.ErrInvalidCredentials
	}
	return nil
}

func (f *fakeIdentity) ListUsers(ctx context.Context) ([]model.Member, error) {
	return f.members, nil
}

func (f *fakeIdentity) UserCount(ctx context.Context) (int, error) {
	return len(f.members), nil
}

type testEnv struct {
	mux      http.Handler
	items    *store.Store
	sweep    *scheduler.Scheduler
	dispatch *fakeDispatch
	maint    *fakeMaintenance
	ident    *fakeIdentity
}

type envOptions struct {
	noIdentity bool
	limiter    *RateLimiter
	metrics    bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	items := store.New(kv.NewRedisStore(rdb))
	items.Load(context.Background())

	// Long interval so only the immediate tick happens.
	sweep, err := scheduler.New("sweep", time.Hour, func(ctx context.Context) { items.Sweep(ctx) })
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { sweep.Stop() })

	d := &fakeDispatch{}
	maint := &fakeMaintenance{}
	env := &testEnv{items: items, sweep: sweep, dispatch: d, maint: maint}

	deps := Deps{
		Items:       items,
		Sweep:       sweep,
		Scheduling:  service.NewScheduler(items, d, d, maint, 160),
		Maintenance: maint,
	}
	if !opts.noIdentity {
		env.ident = newFakeIdentity()
		deps.Identity = env.ident
	}

	var metrics *Metrics
	if opts.metrics {
		metrics = NewMetrics(prometheus.NewRegistry(), items)
	}

	env.mux = Router(NewHandler(deps), metrics, opts.limiter)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%q", want, rr.Code, rr.Body.String())
	}
}

func textRequest(body string) map[string]any {
	return map[string]any{
		"type":          "text",
		"phoneNumber":   "5551234567",
		"scheduledTime": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"message":       body,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, http.MethodGet, "/v1/health", "", nil)

	expectStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestReady(t *testing.T) {
	h := NewHandler(Deps{Items: store.New(nil)})
	mux := Router(h, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	expectStatus(t, rr, http.StatusServiceUnavailable)

	env := newTestEnv(t, envOptions{})
	expectStatus(t, env.do(t, http.MethodGet, "/v1/ready", "", nil), http.StatusOK)
}

func TestRecordings(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, http.MethodGet, "/v1/recordings", "", nil)
	expectStatus(t, rr, http.StatusOK)

	items, ok := decodeJSON(t, rr)["items"].([]any)
	if !ok || len(items) != 10 {
		t.Fatalf("expected 10 recordings, got %v", items)
	}
}

func TestItems_RequireToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	expectStatus(t, env.do(t, http.MethodGet, "/v1/items", "", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/items", "bogus", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/items", "guest-token", nil), http.StatusOK)
}

func TestCreateItem_Lifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("come get me"))
	expectStatus(t, rr, http.StatusCreated)

	item, ok := decodeJSON(t, rr)["item"].(map[string]any)
	if !ok {
		t.Fatalf("expected item object, got %q", rr.Body.String())
	}
	id, _ := item["id"].(string)
	if id == "" || item["status"] != "pending" || item["type"] != "text" {
		t.Fatalf("unexpected item %v", item)
	}

	rr = env.do(t, http.MethodGet, "/v1/items", "user-token", nil)
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if list, _ := body["items"].([]any); len(list) != 1 {
		t.Fatalf("expected 1 item, got %v", body)
	}
	if body["capacity"] != float64(3) {
		t.Fatalf("expected capacity 3, got %v", body["capacity"])
	}

	expectStatus(t, env.do(t, http.MethodPatch, "/v1/items/"+id, "user-token", map[string]any{"status": "sent"}), http.StatusOK)
	if got := env.items.List()[0].Status; got != model.Sent {
		t.Fatalf("expected status sent, got %q", got)
	}
	expectStatus(t, env.do(t, http.MethodPatch, "/v1/items/"+id, "user-token", map[string]any{"status": "bogus"}), http.StatusBadRequest)

	expectStatus(t, env.do(t, http.MethodDelete, "/v1/items/"+id, "user-token", nil), http.StatusOK)
	if env.items.Len() != 0 {
		t.Fatalf("expected item removed")
	}
	expectStatus(t, env.do(t, http.MethodDelete, "/v1/items/unknown", "user-token", nil), http.StatusOK)
}

func TestCreateItem_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "guest-token", textRequest("hi")), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("   ")), http.StatusBadRequest)

	short := textRequest("hi")
	short["phoneNumber"] = "123"
	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "user-token", short), http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/v1/items", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer user-token")
	rr := httptest.NewRecorder()
	env.mux.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusBadRequest)

	env.maint.value = model.Maintenance{Enabled: true, Message: "down for upgrades"}
	rr = env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("hi"))
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if msg := decodeJSON(t, rr)["error"]; msg != "down for upgrades" {
		t.Fatalf("expected maintenance message, got %v", msg)
	}
	env.maint.value = model.Maintenance{}

	env.dispatch.err = errors.New("provider down")
	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("hi")), http.StatusBadGateway)
	if env.items.Len() != 1 {
		t.Fatalf("expected dispatch failure to keep the item, got %d", env.items.Len())
	}
}

func TestCreateItem_CapacityConflict(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for i := 0; i < 3; i++ {
		expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("hi")), http.StatusCreated)
	}

	rr := env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("one more"))
	expectStatus(t, rr, http.StatusConflict)
	if msg, _ := decodeJSON(t, rr)["error"].(string); msg != "Maximum of 3 scheduled items allowed at a time" {
		t.Fatalf("expected capacity message, got %q", msg)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/v1/items", "user-token", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("again")), http.StatusCreated)
}

func TestCreateItem_RateLimited(t *testing.T) {
	env := newTestEnv(t, envOptions{limiter: NewRateLimiter(0, 1)})

	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("hi")), http.StatusCreated)

	rr := env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("hi"))
	expectStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	// Buckets are per caller.
	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "admin-token", textRequest("hi")), http.StatusCreated)
}

func TestSweepEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, http.MethodGet, "/v1/sweep/status", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if running, ok := decodeJSON(t, rr)["running"].(bool); !ok || running {
		t.Fatalf("expected running=false, got %q", rr.Body.String())
	}

	expectStatus(t, env.do(t, http.MethodPost, "/v1/sweep/start", "user-token", nil), http.StatusForbidden)

	rr = env.do(t, http.MethodPost, "/v1/sweep/start", "admin-token", nil)
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if running, ok := body["running"].(bool); !ok || !running {
		t.Fatalf("expected running=true after start, got %v", body)
	}
	if body["interval"] != "1h0m0s" {
		t.Fatalf("expected interval 1h0m0s, got %v", body["interval"])
	}

	rr = env.do(t, http.MethodPost, "/v1/sweep/stop", "admin-token", nil)
	expectStatus(t, rr, http.StatusOK)
	if running, ok := decodeJSON(t, rr)["running"].(bool); !ok || running {
		t.Fatalf("expected running=false after stop, got %q", rr.Body.String())
	}
}

func TestAuthEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{"email": "n@example.com", "password": "secret1"})
	expectStatus(t, rr, http.StatusCreated)
	if decodeJSON(t, rr)["token"] != "new-token" {
		t.Fatalf("expected token in response, got %q", rr.Body.String())
	}
	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{"email": "taken@example.com", "password": "secret1"}), http.StatusConflict)

	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{"email": "u@example.com", "password": "nope"}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{"email": "u@example.com", "password": "secret1"}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/guest", "", nil), http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/reset", "", map[string]any{"email": "u@example.com"}), http.StatusAccepted)
	if len(env.ident.resets) != 1 {
		t.Fatalf("expected reset to be requested")
	}
	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/reset/confirm", "", map[string]any{"token": "bad", "password": "x"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/reset/confirm", "", map[string]any{"token": "reset-token", "password": "newpass"}), http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/logout", "user-token", nil), http.StatusOK)
	if len(env.ident.loggedOut) != 1 || env.ident.loggedOut[0] != "user-token" {
		t.Fatalf("expected logout of user-token, got %v", env.ident.loggedOut)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/v1/account", "user-token", nil), http.StatusUnauthorized)
}

func TestAccountEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, http.MethodGet, "/v1/account", "user-token", nil)
	expectStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["email"] != "u@example.com" {
		t.Fatalf("unexpected account %q", rr.Body.String())
	}
	expectStatus(t, env.do(t, http.MethodGet, "/v1/account", "guest-token", nil), http.StatusBadRequest)

	expectStatus(t, env.do(t, http.MethodPut, "/v1/account/email", "user-token", map[string]any{"email": "x@example.com", "currentPassword": "bad"}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPut, "/v1/account/email", "user-token", map[string]any{"email": "x@example.com", "currentPassword": "secret1"}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPut, "/v1/account/password", "user-token", map[string]any{"currentPassword": "secret1", "newPassword": "another"}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodDelete, "/v1/account", "user-token", map[string]any{"password": "secret1"}), http.StatusOK)
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.ident.members = []model.Member{{Email: "b@example.com"}, {Email: "a@example.com"}}

	expectStatus(t, env.do(t, http.MethodGet, "/v1/admin/users", "user-token", nil), http.StatusForbidden)

	rr := env.do(t, http.MethodGet, "/v1/admin/users", "admin-token", nil)
	expectStatus(t, rr, http.StatusOK)
	if items, _ := decodeJSON(t, rr)["items"].([]any); len(items) != 2 {
		t.Fatalf("expected 2 members, got %q", rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/v1/admin/users/count", "admin-token", nil)
	expectStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["count"] != float64(2) {
		t.Fatalf("expected count 2, got %q", rr.Body.String())
	}
}

func TestMaintenanceEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := env.do(t, http.MethodGet, "/v1/maintenance", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if decodeJSON(t, rr)["enabled"] != false {
		t.Fatalf("expected maintenance disabled, got %q", rr.Body.String())
	}

	expectStatus(t, env.do(t, http.MethodPut, "/v1/maintenance", "user-token", map[string]any{"enabled": true}), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPut, "/v1/maintenance", "admin-token", map[string]any{"enabled": true, "message": "brb"}), http.StatusOK)
	if !env.maint.value.Enabled {
		t.Fatalf("expected maintenance enabled")
	}
}

func TestWithoutIdentity_LocalCaller(t *testing.T) {
	env := newTestEnv(t, envOptions{noIdentity: true})

	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "", textRequest("hi")), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/items", "", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/sweep/start", "", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{"email": "u@example.com"}), http.StatusServiceUnavailable)
	expectStatus(t, env.do(t, http.MethodGet, "/v1/account", "", nil), http.StatusServiceUnavailable)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{metrics: true})

	expectStatus(t, env.do(t, http.MethodPost, "/v1/items", "user-token", textRequest("hi")), http.StatusCreated)

	rr := env.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rr, http.StatusOK)

	out := rr.Body.String()
	if !strings.Contains(out, "gottago_scheduled_items 1") {
		t.Fatalf("expected item gauge in metrics output")
	}
	if !strings.Contains(out, `http_requests_total{method="POST",path="POST /v1/items",status="201"} 1`) {
		t.Fatalf("expected request counter labelled by route pattern, got:\n%s", out)
	}
}

func TestLogging_PassesThroughAndCapturesStatus(t *testing.T) {
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
}
