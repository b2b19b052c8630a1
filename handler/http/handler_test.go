package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	handler "logingest/handler/http"
	"logingest/src/core/auth"
	"logingest/src/core/ingest"
	"logingest/src/core/job"
	"logingest/src/core/job/jobtest"
	"logingest/src/core/user"
	"logingest/src/storage/postgres/userctrl"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubStorage struct {
	mu         sync.Mutex
	present    map[string]bool
	presignErr error
}

func (s *stubStorage) PresignedUploadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://storage.test/" + key, nil
}

func (s *stubStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present[key], nil
}

func (s *stubStorage) Bucket() string        { return "log-uploads" }
func (s *stubStorage) Type() job.StorageType { return job.StorageS3 }

func (s *stubStorage) put(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[key] = true
}

type stubQueue struct {
	mu   sync.Mutex
	msgs []ingest.Message
}

func (q *stubQueue) Enqueue(_ context.Context, msg ingest.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testServer struct {
	t       *testing.T
	engine  *gin.Engine
	storage *stubStorage
	queue   *stubQueue
	users   *user.Service
	ids     map[string]string
}

func newTestServer(t *testing.T, cfg handler.Config, opts ...func(*handler.Options)) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })
	if err := userctrl.Migrate(db); err != nil {
		t.Fatal(err)
	}

	users, err := user.NewService(userctrl.NewRepository(db), 1, logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokens(auth.Config{Secret: "handler-test", AccessTTL: 30 * time.Minute, RefreshTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	storage := &stubStorage{present: map[string]bool{}}
	queue := &stubQueue{}
	ingestSvc := ingest.NewService(jobtest.NewMemory(), storage, queue, 1800*time.Second, logr.Discard())

	options := handler.Options{
		Config: cfg,
		Ingest: ingestSvc,
		Users:  users,
		Tokens: tokens,
		Logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	r := gin.New()
	h := handler.NewHandler(options)
	h.RegisterRoutes(r)

	s := &testServer{t: t, engine: r, storage: storage, queue: queue, users: users, ids: map[string]string{}}
	s.addUser("root", "admin")
	s.addUser("alice", "user")
	s.addUser("bob", "user")
	return s
}

func (s *testServer) addUser(name, role string) {
	s.t.Helper()
	u, err := s.users.Create(context.Background(), user.CreateParams{
		Username: name,
		Email:    name + "@example.com",
		Password: name + "-password",
		Roles:    []string{role},
		IsActive: true,
	})
	if err != nil {
		s.t.Fatal(err)
	}
	s.ids[name] = u.UserID
}

func (s *testServer) login(name string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/auth/login", "", map[string]string{
		"username": name,
		"password": name + "-password",
	})
	if w.Code != http.StatusOK {
		s.t.Fatalf("login %s: status %d body %s", name, w.Code, w.Body)
	}
	var resp handler.TokenResponse
	decode(s.t, w, &resp)
	return resp.AccessToken
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) handler.ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body)
	}
	var resp handler.ErrorResponse
	decode(t, w, &resp)
	if resp.Code != code {
		t.Errorf("code = %q, want %q", resp.Code, code)
	}
	return resp
}

func TestMissingCredentialIsInvalidToken(t *testing.T) {
	s := newTestServer(t, handler.Config{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/ingest/files/init"},
		{http.MethodGet, "/jobs"},
		{http.MethodGet, "/auth/me"},
	} {
		w := s.do(tc.method, tc.path, "", nil)
		expectError(t, w, http.StatusUnauthorized, "INVALID_TOKEN")
	}

	w := s.do(http.MethodGet, "/jobs", "garbage", nil)
	expectError(t, w, http.StatusUnauthorized, "INVALID_TOKEN")
}

func TestUploadFlow(t *testing.T) {
	s := newTestServer(t, handler.Config{})
	token := s.login("alice")

	w := s.do(http.MethodPost, "/ingest/files/init", token, map[string]interface{}{
		"filename":   "access.log",
		"size":       2048,
		"log_format": "ndjson",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("init status = %d body %s", w.Code, w.Body)
	}
	var initResp handler.InitUploadResponse
	decode(t, w, &initResp)
	if initResp.ExpiresIn != 1800 || initResp.JobID == "" || initResp.PresignedURL == "" {
		t.Fatalf("init response = %+v", initResp)
	}

	key := "raw-logs/" + initResp.JobID + ".log"
	s.storage.put(key)

	w = s.do(http.MethodPost, "/ingest/files/complete", token, map[string]string{"job_id": initResp.JobID})
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d body %s", w.Code, w.Body)
	}
	var completeResp handler.CompleteUploadResponse
	decode(t, w, &completeResp)
	if completeResp.Status != job.StatusQueued {
		t.Errorf("status = %s, want QUEUED", completeResp.Status)
	}
	if len(s.queue.msgs) != 1 || s.queue.msgs[0].Payload.Key != key {
		t.Errorf("queue = %+v", s.queue.msgs)
	}

	w = s.do(http.MethodPost, "/ingest/files/complete", token, map[string]string{"job_id": initResp.JobID})
	expectError(t, w, http.StatusBadRequest, "INVALID_JOB_STATE")
	if len(s.queue.msgs) != 1 {
		t.Errorf("queue received %d messages after second complete", len(s.queue.msgs))
	}

	w = s.do(http.MethodGet, "/jobs/"+initResp.JobID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get job status = %d", w.Code)
	}
	var got job.Job
	decode(t, w, &got)
	if got.Status != job.StatusQueued || got.QueuedAt == nil {
		t.Errorf("job = %+v", got)
	}

	w = s.do(http.MethodGet, "/jobs/does-not-exist", token, nil)
	expectError(t, w, http.StatusNotFound, "JOB_NOT_FOUND")
}

func TestInitUploadValidation(t *testing.T) {
	s := newTestServer(t, handler.Config{})
	token := s.login("alice")

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"traversal", map[string]interface{}{"filename": "../etc/passwd", "size": 10}},
		{"bad characters", map[string]interface{}{"filename": "a b.log", "size": 10}},
		{"too large", map[string]interface{}{"filename": "a.log", "size": ingest.MaxFileSize + 1}},
		{"missing size", map[string]interface{}{"filename": "a.log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/ingest/files/init", token, tt.body)
			expectError(t, w, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
		})
	}
}

func TestPermissionsOnJobs(t *testing.T) {
	s := newTestServer(t, handler.Config{})

	w := s.do(http.MethodGet, "/jobs", s.login("alice"), nil)
	expectError(t, w, http.StatusForbidden, "PERMISSION_DENIED")

	w = s.do(http.MethodGet, "/jobs?limit=10", s.login("root"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin list jobs status = %d body %s", w.Code, w.Body)
	}
	if w.Header().Get("X-Total-Count") != "0" {
		t.Errorf("X-Total-Count = %q", w.Header().Get("X-Total-Count"))
	}

	w = s.do(http.MethodGet, "/jobs?limit=5000", s.login("root"), nil)
	expectError(t, w, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestOwnerOrPermissionOnUsers(t *testing.T) {
	s := newTestServer(t, handler.Config{})
	alice := s.login("alice")

	w := s.do(http.MethodGet, "/users/"+s.ids["alice"], alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("own profile status = %d body %s", w.Code, w.Body)
	}
	var u user.User
	decode(t, w, &u)
	if u.Username != "alice" {
		t.Errorf("username = %q", u.Username)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("hashed")) {
		t.Error("response leaks the password hash")
	}

	w = s.do(http.MethodGet, "/users/"+s.ids["bob"], alice, nil)
	expectError(t, w, http.StatusForbidden, "POLICY_DENIED")

	w = s.do(http.MethodGet, "/users/"+s.ids["bob"], s.login("root"), nil)
	if w.Code != http.StatusOK {
		t.Errorf("admin view status = %d", w.Code)
	}

	w = s.do(http.MethodDelete, "/users/"+s.ids["bob"], alice, nil)
	expectError(t, w, http.StatusForbidden, "PERMISSION_DENIED")
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t, handler.Config{})
	root := s.login("root")

	w := s.do(http.MethodPost, "/users", root, map[string]interface{}{
		"username": "carol",
		"email":    "carol@example.com",
		"password": "carol-password",
		"roles":    []string{"manager"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", w.Code, w.Body)
	}
	var carol user.User
	decode(t, w, &carol)
	if !carol.IsActive {
		t.Error("new user should default to active")
	}

	w = s.do(http.MethodPatch, "/users/"+carol.UserID+"/status", root, map[string]bool{"is_active": false})
	if w.Code != http.StatusOK {
		t.Fatalf("status update = %d body %s", w.Code, w.Body)
	}

	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "carol", "password": "carol-password"})
	expectError(t, w, http.StatusUnauthorized, "USER_INACTIVE")

	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
	expectError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	w = s.do(http.MethodDelete, "/users/"+carol.UserID, root, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = s.do(http.MethodGet, "/users/"+carol.UserID, root, nil)
	expectError(t, w, http.StatusNotFound, "USER_NOT_FOUND")
}

func TestRefreshAndMe(t *testing.T) {
	s := newTestServer(t, handler.Config{})

	w := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "alice-password"})
	var tokens handler.TokenResponse
	decode(t, w, &tokens)
	if tokens.TokenType != "bearer" || tokens.ExpiresIn != 1800 {
		t.Errorf("token response = %+v", tokens)
	}

	w = s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body %s", w.Code, w.Body)
	}

	w = s.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tokens.AccessToken})
	expectError(t, w, http.StatusUnauthorized, "INVALID_TOKEN")

	w = s.do(http.MethodGet, "/auth/me", tokens.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}
	var me map[string]interface{}
	decode(t, w, &me)
	if me["username"] != "alice" || me["user_id"] != s.ids["alice"] {
		t.Errorf("me = %v", me)
	}
}

func TestInfrastructureErrorDetail(t *testing.T) {
	tests := []struct {
		env         string
		wantDetails bool
	}{
		{"development", true},
		{"production", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			s := newTestServer(t, handler.Config{Environment: tt.env})
			s.storage.presignErr = errors.New("dial tcp 10.0.0.7:9000: connection refused")

			w := s.do(http.MethodPost, "/ingest/files/init", s.login("alice"), map[string]interface{}{
				"filename": "a.log",
				"size":     10,
			})
			resp := expectError(t, w, http.StatusServiceUnavailable, "STORAGE_ERROR")
			if (resp.Details != nil) != tt.wantDetails {
				t.Errorf("details = %v, want present=%v", resp.Details, tt.wantDetails)
			}
			if !tt.wantDetails && bytes.Contains(w.Body.Bytes(), []byte("10.0.0.7")) {
				t.Error("production response leaks internal detail")
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, handler.Config{AppName: "logingest", Version: "1.0.0"}, func(o *handler.Options) {
		o.Checks = []handler.Check{
			{Name: "database", Pinger: pinger{}},
			{Name: "redis", Pinger: pinger{err: errors.New("down")}},
		}
	})

	w := s.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}

	w = s.do(http.MethodGet, "/health/live", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("live status = %d", w.Code)
	}

	w = s.do(http.MethodGet, "/health/ready", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", w.Code)
	}
	var ready handler.ReadinessResponse
	decode(t, w, &ready)
	if ready.Status != "not_ready" || ready.Components["database"] != "healthy" || ready.Components["redis"] != "unhealthy" {
		t.Errorf("ready = %+v", ready)
	}

	if w = s.do(http.MethodGet, "/", "", nil); w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}

func withRedis(t *testing.T) (*miniredis.Miniredis, func(*handler.Options)) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, func(o *handler.Options) { o.Redis = client }
}

func TestLoginRateLimit(t *testing.T) {
	_, opt := withRedis(t)
	s := newTestServer(t, handler.Config{RateLimits: handler.RateLimits{Login: 2}}, opt)

	attempt := func() *httptest.ResponseRecorder {
		return s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	}

	for i := 0; i < 2; i++ {
		w := attempt()
		expectError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
		if w.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
		}
	}

	w := attempt()
	expectError(t, w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}
}

func TestRateLimitKeyedByUser(t *testing.T) {
	_, opt := withRedis(t)
	s := newTestServer(t, handler.Config{RateLimits: handler.RateLimits{Jobs: 1}}, opt)
	alice, bob := s.login("alice"), s.login("bob")

	if w := s.do(http.MethodGet, "/jobs/unknown", alice, nil); w.Code != http.StatusNotFound {
		t.Fatalf("first request status = %d", w.Code)
	}
	expectError(t, s.do(http.MethodGet, "/jobs/unknown", alice, nil), http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")

	if w := s.do(http.MethodGet, "/jobs/unknown", bob, nil); w.Code != http.StatusNotFound {
		t.Errorf("other user should have its own window, status = %d", w.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr, opt := withRedis(t)
	s := newTestServer(t, handler.Config{RateLimits: handler.RateLimits{Login: 1}}, opt)
	mr.Close()

	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
		expectError(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
	}
}
