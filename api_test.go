package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codersaadi/passvault/internal/breach"
	"github.com/codersaadi/passvault/internal/config"
)

const testMaster = "hunter2"

func newTestServer(t *testing.T) (*apiServer, http.Handler) {
	t.Helper()
	return newTestServerWithChecker(t, breach.Func(func(_ context.Context, pw string) bool { return pw == "password" }))
}

func newTestServerWithChecker(t *testing.T, checker breach.Checker) (*apiServer, http.Handler) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	s := newAPIServer(cfg, newOpener(cfg, checker, zerolog.Nop()), zerolog.Nop())
	return s, s.routes()
}

type testResponse struct {
	Code    int
	Success bool
	Message string
	Data    interface{}
}

func (r testResponse) object(t *testing.T) map[string]interface{} {
	t.Helper()
	m, ok := r.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", r.Data)
	return m
}

func (r testResponse) list(t *testing.T) []interface{} {
	t.Helper()
	l, ok := r.Data.([]interface{})
	require.True(t, ok, "data is %T", r.Data)
	return l
}

func doRequest(t *testing.T, h http.Handler, method, target, token string, body interface{}) testResponse {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return testResponse{Code: rec.Code, Success: resp.Success, Message: resp.Message, Data: resp.Data}
}

func unlock(t *testing.T, h http.Handler, master string) string {
	t.Helper()
	resp := doRequest(t, h, http.MethodPost, "/api/unlock", "", AuthRequest{Password: master})
	require.Equal(t, http.StatusOK, resp.Code, resp.Message)
	token, _ := resp.object(t)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealthCheck(t *testing.T) {
	_, h := newTestServer(t)

	resp := doRequest(t, h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	data := resp.object(t)
	assert.Equal(t, Version, data["version"])
	assert.Equal(t, false, data["vaultExists"])
	assert.Equal(t, false, data["unlocked"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	_, h := newTestServer(t)

	for _, target := range []string{"/api/credentials", "/api/audit", "/api/generate-password"} {
		resp := doRequest(t, h, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, target)
		assert.False(t, resp.Success)

		resp = doRequest(t, h, http.MethodGet, target, "not-a-session", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, target)
	}
}

func TestUnlock_InvalidBody(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/unlock", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnlock_EmptyMasterPassword(t *testing.T) {
	_, h := newTestServer(t)
	token := unlock(t, h, "")

	resp := doRequest(t, h, http.MethodPost, "/api/credentials", token,
		CredentialRequest{Site: "bank.com", Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doRequest(t, h, http.MethodPost, "/api/unlock", "", AuthRequest{Password: testMaster})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	token = unlock(t, h, "")
	resp = doRequest(t, h, http.MethodGet, "/api/credentials/bank.com", token, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestCredentialLifecycle(t *testing.T) {
	_, h := newTestServer(t)
	token := unlock(t, h, testMaster)

	resp := doRequest(t, h, http.MethodPost, "/api/credentials", token,
		CredentialRequest{Site: "bank.com", Username: "alice", Password: "s3cr3t!"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Message)
	assert.Equal(t, false, resp.object(t)["breached"])

	resp = doRequest(t, h, http.MethodPost, "/api/credentials", token,
		CredentialRequest{Site: "mail.com", Username: "bob", Password: "password"})
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, true, resp.object(t)["breached"])

	resp = doRequest(t, h, http.MethodGet, "/api/credentials/bank.com", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	got := resp.object(t)
	assert.Equal(t, "bank.com", got["site"])
	assert.Equal(t, "alice", got["username"])
	assert.Equal(t, "s3cr3t!", got["password"])
	assert.Equal(t, false, got["breached"])

	resp = doRequest(t, h, http.MethodGet, "/api/credentials?hidePasswords=true", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	items := resp.list(t)
	require.Len(t, items, 2)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "bank.com", first["site"])
	assert.NotContains(t, first, "password")

	resp = doRequest(t, h, http.MethodGet, "/api/credentials?q=BOB", token, nil)
	items = resp.list(t)
	require.Len(t, items, 1)
	assert.Equal(t, "mail.com", items[0].(map[string]interface{})["site"])

	resp = doRequest(t, h, http.MethodDelete, "/api/credentials/bank.com", token, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = doRequest(t, h, http.MethodDelete, "/api/credentials/bank.com", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = doRequest(t, h, http.MethodGet, "/api/credentials/bank.com", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAddCredential_SiteRequired(t *testing.T) {
	_, h := newTestServer(t)
	token := unlock(t, h, testMaster)

	resp := doRequest(t, h, http.MethodPost, "/api/credentials", token,
		CredentialRequest{Username: "alice", Password: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCredential_EncodedSite(t *testing.T) {
	_, h := newTestServer(t)
	token := unlock(t, h, testMaster)

	resp := doRequest(t, h, http.MethodPost, "/api/credentials", token,
		CredentialRequest{Site: "example.com/login", Username: "carol", Password: "pw"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doRequest(t, h, http.MethodGet, "/api/credentials/example.com%2Flogin", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "carol", resp.object(t)["username"])
}

func TestUnlock_WrongPassword(t *testing.T) {
	_, h := newTestServer(t)
	token := unlock(t, h, testMaster)
	resp := doRequest(t, h, http.MethodPost, "/api/credentials", token,
		CredentialRequest{Site: "bank.com", Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doRequest(t, h, http.MethodPost, "/api/unlock", "", AuthRequest{Password: "hunter3"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	// A failed unlock keeps the open vault and its session.
	resp = doRequest(t, h, http.MethodGet, "/api/credentials/bank.com", token, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestUnlock_ReplacesSessions(t *testing.T) {
	_, h := newTestServer(t)
	first := unlock(t, h, testMaster)
	second := unlock(t, h, testMaster)
	require.NotEqual(t, first, second)

	resp := doRequest(t, h, http.MethodGet, "/api/credentials", first, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doRequest(t, h, http.MethodGet, "/api/credentials", second, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestLock(t *testing.T) {
	s, h := newTestServer(t)
	token := unlock(t, h, testMaster)

	resp := doRequest(t, h, http.MethodPost, "/api/lock", token, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Nil(t, s.vault)

	resp = doRequest(t, h, http.MethodGet, "/api/credentials", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestSessionExpiry(t *testing.T) {
	s, h := newTestServer(t)
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	token := unlock(t, h, testMaster)

	// Activity slides the expiry forward.
	now = now.Add(s.cfg.SessionTTL() - time.Second)
	resp := doRequest(t, h, http.MethodGet, "/api/credentials", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	now = now.Add(s.cfg.SessionTTL() - time.Second)
	resp = doRequest(t, h, http.MethodGet, "/api/credentials", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	now = now.Add(s.cfg.SessionTTL() + time.Second)
	resp = doRequest(t, h, http.MethodGet, "/api/credentials", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Empty(t, s.sessions)
}

func TestGeneratePassword(t *testing.T) {
	_, h := newTestServer(t)
	token := unlock(t, h, testMaster)

	resp := doRequest(t, h, http.MethodGet, "/api/generate-password?length=24", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	pw, _ := resp.object(t)["password"].(string)
	assert.Len(t, pw, 24)

	resp = doRequest(t, h, http.MethodGet, "/api/generate-password?length=8&upper=false&special=false&digits=false", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	pw, _ = resp.object(t)["password"].(string)
	assert.Regexp(t, `^[a-z]{8}$`, pw)

	resp = doRequest(t, h, http.MethodGet, "/api/generate-password?length=1", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 4, resp.object(t)["length"])

	resp = doRequest(t, h, http.MethodGet, "/api/generate-password?length=many", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAudit(t *testing.T) {
	_, h := newTestServer(t)
	token := unlock(t, h, testMaster)

	resp := doRequest(t, h, http.MethodGet, "/api/audit", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "good", resp.object(t)["status"])

	for _, site := range []string{"a.com", "b.com"} {
		r := doRequest(t, h, http.MethodPost, "/api/credentials", token,
			CredentialRequest{Site: site, Username: "u", Password: "password"})
		require.Equal(t, http.StatusCreated, r.Code)
	}

	resp = doRequest(t, h, http.MethodGet, "/api/audit", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	data := resp.object(t)
	assert.Equal(t, "warning", data["status"])
	assert.EqualValues(t, 2, data["total_entries"])
	assert.Equal(t, []interface{}{"a.com", "b.com"}, data["breached"])
	assert.Equal(t, []interface{}{[]interface{}{"a.com", "b.com"}}, data["reused"])
}

func TestBackup(t *testing.T) {
	s, h := newTestServer(t)
	token := unlock(t, h, testMaster)

	resp := doRequest(t, h, http.MethodPost, "/api/backup", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = doRequest(t, h, http.MethodPost, "/api/credentials", token,
		CredentialRequest{Site: "bank.com", Username: "alice", Password: "pw"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doRequest(t, h, http.MethodPost, "/api/backup", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	path, _ := resp.object(t)["backup_path"].(string)
	require.NotEmpty(t, path)

	orig, err := os.ReadFile(s.cfg.VaultPath)
	require.NoError(t, err)
	backup, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig, backup)
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/credentials", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

// A request that passed authMiddleware can still find the vault locked by a
// concurrent /api/lock or by shutdown.
func TestHandlers_VaultLockedAfterAuth(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		handler func(s *apiServer) http.HandlerFunc
	}{
		{"list", http.MethodGet, "/api/credentials", "", func(s *apiServer) http.HandlerFunc { return s.handleListCredentials }},
		{"add", http.MethodPost, "/api/credentials", `{"site":"bank.com","password":"pw"}`, func(s *apiServer) http.HandlerFunc { return s.handleAddCredential }},
		{"get", http.MethodGet, "/api/credentials/bank.com", "", func(s *apiServer) http.HandlerFunc { return s.handleGetCredential }},
		{"delete", http.MethodDelete, "/api/credentials/bank.com", "", func(s *apiServer) http.HandlerFunc { return s.handleDeleteCredential }},
		{"audit", http.MethodGet, "/api/audit", "", func(s *apiServer) http.HandlerFunc { return s.handleAudit }},
		{"backup", http.MethodPost, "/api/backup", "", func(s *apiServer) http.HandlerFunc { return s.handleBackup }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, h := newTestServer(t)
			unlock(t, h, testMaster)
			s.lock()

			req := httptest.NewRequest(tt.method, tt.target, bytes.NewBufferString(tt.body))
			req = mux.SetURLVars(req, map[string]string{"site": "bank.com"})
			rec := httptest.NewRecorder()
			tt.handler(s)(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var resp APIResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "Vault is locked", resp.Message)
		})
	}
}

func TestAddCredential_LockedDuringBreachCheck(t *testing.T) {
	var s *apiServer
	s, h := newTestServerWithChecker(t, breach.Func(func(context.Context, string) bool {
		s.lock()
		return false
	}))
	token := unlock(t, h, testMaster)

	resp := doRequest(t, h, http.MethodPost, "/api/credentials", token,
		CredentialRequest{Site: "bank.com", Username: "alice", Password: "pw"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	_, err := os.Stat(s.cfg.VaultPath)
	assert.True(t, os.IsNotExist(err))
}

func TestAddCredential_BreachCheckDoesNotBlockOtherRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	_, h := newTestServerWithChecker(t, breach.Func(func(context.Context, string) bool {
		close(entered)
		<-release
		return true
	}))
	token := unlock(t, h, testMaster)

	done := make(chan testResponse, 1)
	go func() {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(CredentialRequest{Site: "bank.com", Username: "alice", Password: "pw"})
		req := httptest.NewRequest(http.MethodPost, "/api/credentials", &buf)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		done <- testResponse{Code: rec.Code}
	}()

	<-entered
	resp := doRequest(t, h, http.MethodGet, "/api/credentials", token, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, resp.list(t))
	resp = doRequest(t, h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	close(release)

	select {
	case added := <-done:
		assert.Equal(t, http.StatusCreated, added.Code)
	case <-time.After(10 * time.Second):
		t.Fatal("add request did not finish")
	}

	resp = doRequest(t, h, http.MethodGet, "/api/credentials/bank.com", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, resp.object(t)["breached"])
}

func TestAddCredential_InvalidBody(t *testing.T) {
	_, h := newTestServer(t)
	token := unlock(t, h, testMaster)

	req := httptest.NewRequest(http.MethodPost, "/api/credentials", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
