package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/codersaadi/passvault/internal/config"
	"github.com/codersaadi/passvault/internal/passgen"
	"github.com/codersaadi/passvault/internal/vault"
)

// AuthRequest is the body of an unlock request. An empty master password is
// valid, as it is for the interactive menu.
type AuthRequest struct {
	Password string `json:"password"`
}

// CredentialRequest is the body of an add credential request.
type CredentialRequest struct {
	Site     string `json:"site" validate:"required"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialResponse is the JSON representation of a stored credential.
type CredentialResponse struct {
	Site     string `json:"site"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Breached bool   `json:"breached"`
}

func toCredentialResponse(r vault.CredentialRecord, withPassword bool) CredentialResponse {
	resp := CredentialResponse{Site: r.Site, Username: r.Username, Breached: r.Breached}
	if withPassword {
		resp.Password = r.Password
	}
	return resp
}

// errVaultChanged means the vault was locked or replaced while a request
// was waiting on the breach check.
var errVaultChanged = errors.New("vault changed during request")

// apiServer serves the vault over a local JSON API. vault.Vault is not safe
// for concurrent use, so every access goes through mu.
type apiServer struct {
	cfg      *config.Config
	open     opener
	log      zerolog.Logger
	validate *validator.Validate
	now      func() time.Time

	mu       sync.Mutex
	vault    *vault.Vault
	sessions map[string]session
}

func newAPIServer(cfg *config.Config, open opener, log zerolog.Logger) *apiServer {
	return &apiServer{
		cfg:      cfg,
		open:     open,
		log:      log.With().Str("component", "api").Logger(),
		validate: validator.New(),
		now:      time.Now,
		sessions: make(map[string]session),
	}
}

func (s *apiServer) routes() http.Handler {
	router := mux.NewRouter().UseEncodedPath()
	router.Use(recoveryMiddleware(s.log), loggingMiddleware(s.log))

	api := router.PathPrefix("/api").Subrouter()

	// Public routes
	api.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/unlock", s.handleUnlock).Methods(http.MethodPost)

	// Protected routes (require authentication)
	protected := api.PathPrefix("").Subrouter()
	protected.Use(s.authMiddleware)

	protected.HandleFunc("/lock", s.handleLock).Methods(http.MethodPost)
	protected.HandleFunc("/credentials", s.handleListCredentials).Methods(http.MethodGet)
	protected.HandleFunc("/credentials", s.handleAddCredential).Methods(http.MethodPost)
	protected.HandleFunc("/credentials/{site}", s.handleGetCredential).Methods(http.MethodGet)
	protected.HandleFunc("/credentials/{site}", s.handleDeleteCredential).Methods(http.MethodDelete)
	protected.HandleFunc("/generate-password", s.handleGeneratePassword).Methods(http.MethodGet)
	protected.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	protected.HandleFunc("/backup", s.handleBackup).Methods(http.MethodPost)

	return corsMiddleware(router)
}

// serve runs the API until ctx is cancelled.
func (s *apiServer) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Adding a credential may wait on the breach check.
		WriteTimeout: s.cfg.BreachTimeout()*3 + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go s.cleanExpiredSessions(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("api server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "api server")
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "api server shutdown")
	}
	s.lock()
	return nil
}

// authMiddleware verifies the session token and slides its expiry.
func (s *apiServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := getTokenFromRequest(r)
		if token == "" {
			sendErrorResponse(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		s.mu.Lock()
		sess, found := s.sessions[token]
		now := s.now()
		switch {
		case !found:
			s.mu.Unlock()
			sendErrorResponse(w, "Invalid or expired session", http.StatusUnauthorized)
			return
		case now.After(sess.ExpiresAt):
			delete(s.sessions, token)
			s.mu.Unlock()
			sendErrorResponse(w, "Session expired", http.StatusUnauthorized)
			return
		case s.vault == nil:
			s.mu.Unlock()
			sendErrorResponse(w, "Vault is locked", http.StatusUnauthorized)
			return
		}
		sess.ExpiresAt = now.Add(s.cfg.SessionTTL())
		s.sessions[token] = sess
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) cleanExpiredSessions(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			now := s.now()
			for token, sess := range s.sessions {
				if now.After(sess.ExpiresAt) {
					delete(s.sessions, token)
				}
			}
			s.mu.Unlock()
		}
	}
}

// lock forgets the open vault and every session.
func (s *apiServer) lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vault = nil
	s.sessions = make(map[string]session)
}

// withVault runs fn with the open vault while holding s.mu. When the vault
// was locked after the request passed authMiddleware, it answers 401 and
// reports false.
func (s *apiServer) withVault(w http.ResponseWriter, fn func(v *vault.Vault)) bool {
	s.mu.Lock()
	v := s.vault
	if v == nil {
		s.mu.Unlock()
		sendErrorResponse(w, "Vault is locked", http.StatusUnauthorized)
		return false
	}
	fn(v)
	s.mu.Unlock()
	return true
}

func (s *apiServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	vaultExists := false
	if _, err := os.Stat(s.cfg.VaultPath); err == nil {
		vaultExists = true
	}
	s.mu.Lock()
	unlocked := s.vault != nil
	s.mu.Unlock()

	sendJSONResponse(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"version":     Version,
			"vaultExists": vaultExists,
			"unlocked":    unlocked,
			"status":      "operational",
		},
	}, http.StatusOK)
}

// handleUnlock opens the vault with the master password and starts a
// session. Unlocking again replaces the open vault and ends older sessions.
func (s *apiServer) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	v, err := s.open(req.Password)
	if vault.IsLoadFailure(err) {
		s.log.Warn().Msg("unlock failed: wrong master password or corrupted vault")
		sendErrorResponse(w, "Invalid master password or corrupted vault", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("unlock failed")
		sendErrorResponse(w, "Error opening vault", http.StatusInternalServerError)
		return
	}

	token, err := generateSecureToken()
	if err != nil {
		sendErrorResponse(w, "Error creating session", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	now := s.now()
	expiry := now.Add(s.cfg.SessionTTL())
	s.vault = v
	s.sessions = map[string]session{token: {CreatedAt: now, ExpiresAt: expiry}}
	s.mu.Unlock()

	sendJSONResponse(w, APIResponse{
		Success: true,
		Message: "Vault unlocked",
		Data: map[string]interface{}{
			"token":       token,
			"expiry":      expiry,
			"timeout_min": s.cfg.SessionTimeout,
		},
	}, http.StatusOK)
}

func (s *apiServer) handleLock(w http.ResponseWriter, r *http.Request) {
	s.lock()
	sendJSONResponse(w, APIResponse{Success: true, Message: "Vault locked"}, http.StatusOK)
}

func (s *apiServer) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	hidePasswords := parseBool(r.URL.Query().Get("hidePasswords"), false)
	query := r.URL.Query().Get("q")

	var records []vault.CredentialRecord
	if !s.withVault(w, func(v *vault.Vault) { records = v.Search(query) }) {
		return
	}

	out := make([]CredentialResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toCredentialResponse(rec, !hidePasswords))
	}
	sendJSONResponse(w, APIResponse{Success: true, Data: out}, http.StatusOK)
}

func (s *apiServer) handleAddCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		sendErrorResponse(w, "Site is required", http.StatusBadRequest)
		return
	}

	rec := vault.CredentialRecord{Site: req.Site, Username: req.Username, Password: req.Password}
	if err := rec.Validate(); err != nil {
		sendErrorResponse(w, "Invalid credential", http.StatusBadRequest)
		return
	}

	// The breach check may take several network round trips, so it runs
	// without s.mu. The record is only stored into the vault it was checked
	// for.
	var checked *vault.Vault
	if !s.withVault(w, func(v *vault.Vault) { checked = v }) {
		return
	}
	rec.Breached = checked.CheckBreach(r.Context(), rec.Password)

	var err error
	s.mu.Lock()
	if s.vault == checked {
		err = checked.Put(rec)
	} else {
		err = errVaultChanged
	}
	s.mu.Unlock()
	if errors.Is(err, errVaultChanged) {
		sendErrorResponse(w, "Vault is locked", http.StatusUnauthorized)
		return
	}
	if errors.Is(err, vault.ErrInvalidRecord) {
		sendErrorResponse(w, "Invalid credential", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("add credential failed")
		sendErrorResponse(w, "Error saving vault", http.StatusInternalServerError)
		return
	}
	breached := rec.Breached

	message := "Credential saved"
	if breached {
		message = "Credential saved; this password appears in a known data breach"
	}
	sendJSONResponse(w, APIResponse{
		Success: true,
		Message: message,
		Data:    map[string]interface{}{"site": req.Site, "breached": breached},
	}, http.StatusCreated)
}

func (s *apiServer) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	site, ok := siteVar(w, r)
	if !ok {
		return
	}

	var (
		rec   vault.CredentialRecord
		found bool
	)
	if !s.withVault(w, func(v *vault.Vault) { rec, found = v.Find(site) }) {
		return
	}
	if !found {
		sendErrorResponse(w, "Credential not found", http.StatusNotFound)
		return
	}
	sendJSONResponse(w, APIResponse{Success: true, Data: toCredentialResponse(rec, true)}, http.StatusOK)
}

func (s *apiServer) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	site, ok := siteVar(w, r)
	if !ok {
		return
	}

	var (
		removed bool
		err     error
	)
	if !s.withVault(w, func(v *vault.Vault) { removed, err = v.Remove(site) }) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("remove credential failed")
		sendErrorResponse(w, "Error saving vault", http.StatusInternalServerError)
		return
	}
	if !removed {
		sendErrorResponse(w, "Credential not found", http.StatusNotFound)
		return
	}
	sendJSONResponse(w, APIResponse{Success: true, Message: "Credential deleted"}, http.StatusOK)
}

func (s *apiServer) handleGeneratePassword(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	length, err := parseInt(query.Get("length"), passgen.DefaultLength)
	if err != nil {
		sendErrorResponse(w, "Invalid length", http.StatusBadRequest)
		return
	}
	length = passgen.ClampLength(length)
	opts := passgen.Options{
		Upper:   parseBool(query.Get("upper"), true),
		Lower:   parseBool(query.Get("lower"), true),
		Digits:  parseBool(query.Get("digits"), true),
		Special: parseBool(query.Get("special"), true),
	}
	if opts == (passgen.Options{}) {
		opts.Lower = true
	}

	password, err := passgen.Generate(length, opts)
	if err != nil {
		sendErrorResponse(w, "Error generating password", http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, APIResponse{
		Success: true,
		Data:    map[string]interface{}{"password": password, "length": length},
	}, http.StatusOK)
}

func (s *apiServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	var rep vault.Report
	if !s.withVault(w, func(v *vault.Vault) { rep = v.Audit() }) {
		return
	}

	status := "good"
	if !rep.Healthy() {
		status = "warning"
	}
	breached := rep.Breached
	if breached == nil {
		breached = []string{}
	}
	reused := rep.Reused
	if reused == nil {
		reused = [][]string{}
	}
	sendJSONResponse(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"total_entries": rep.Total,
			"breached":      breached,
			"reused":        reused,
			"status":        status,
		},
	}, http.StatusOK)
}

func (s *apiServer) handleBackup(w http.ResponseWriter, r *http.Request) {
	var (
		path string
		err  error
	)
	if !s.withVault(w, func(v *vault.Vault) { path, err = v.Backup(s.cfg.BackupDir) }) {
		return
	}
	if errors.Is(err, vault.ErrNothingToBackup) {
		sendErrorResponse(w, "No vault file to back up", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("backup failed")
		sendErrorResponse(w, "Error backing up vault", http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, APIResponse{
		Success: true,
		Message: "Vault backed up",
		Data:    map[string]interface{}{"backup_path": path},
	}, http.StatusOK)
}

// siteVar returns the unescaped {site} path variable.
func siteVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	site, err := url.PathUnescape(mux.Vars(r)["site"])
	if err != nil || site == "" {
		sendErrorResponse(w, "Invalid site", http.StatusBadRequest)
		return "", false
	}
	return site, true
}

// routeTemplate returns the matched route pattern so that site names never
// reach the request log.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
