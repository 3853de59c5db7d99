package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/match"
	"github.com/nightglass/darkmon/internal/monitor"
)

const defaultSearchLimit = 25

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type searchRequest struct {
	Keyword string `json:"keyword"`
	Limit   int    `json:"limit,omitempty"`
}

type searchResult struct {
	URL            string `json:"url"`
	Source         string `json:"source"`
	Title          string `json:"title,omitempty"`
	Found          bool   `json:"found"`
	TelegramStatus string `json:"telegram_status"`
}

type searchResponse struct {
	Keyword      string         `json:"keyword"`
	Results      []searchResult `json:"results"`
	AlertedSites []string       `json:"alerted_sites"`
}

type scanRequest struct {
	URL    string `json:"url"`
	Source string `json:"source"`
}

type scanResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.users.Signup(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, monitor.ErrUserExists) {
			writeError(w, http.StatusConflict, "username already registered")
			return
		}
		s.logger.Error("signup failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "could not register user")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, monitor.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not log in")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleSearch registers the keyword for the caller, searches indexed
// snapshots, and raises alerts for hits that do not have one yet.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	keyword := strings.ToLower(strings.TrimSpace(req.Keyword))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	ctx := r.Context()
	owner := usernameFrom(ctx)
	if err := s.keywords.AddKeyword(ctx, monitor.Keyword{
		Term:      keyword,
		Owner:     owner,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		s.logger.Error("register keyword", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not register keyword")
		return
	}

	refs, err := s.idx.Search(keyword, limit)
	if err != nil {
		s.logger.Error("index search", zap.String("keyword", keyword), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	resp := searchResponse{
		Keyword:      keyword,
		Results:      make([]searchResult, 0, len(refs)),
		AlertedSites: []string{},
	}
	for _, ref := range refs {
		snap, err := s.snapshots.GetSnapshot(ctx, ref.SnapshotID)
		if err != nil {
			s.logger.Warn("snapshot missing for index hit",
				zap.String("snapshot_id", ref.SnapshotID), zap.Error(err))
			continue
		}
		result := searchResult{
			URL:            snap.URL,
			Source:         string(snap.Source),
			Title:          snap.Title,
			TelegramStatus: "none",
		}
		matches := match.Evaluate(snap.Content, []string{keyword})
		if len(matches) > 0 {
			result.Found = true
			status, err := s.alertStatusFor(r, snap, matches[0])
			if err != nil {
				s.logger.Error("raise alert for search hit",
					zap.String("snapshot_id", snap.ID), zap.Error(err))
			} else {
				result.TelegramStatus = status
			}
			resp.AlertedSites = append(resp.AlertedSites, snap.URL)
		}
		resp.Results = append(resp.Results, result)
	}
	writeJSON(w, http.StatusOK, resp)
}

// alertStatusFor reuses the existing finding for a snapshot/keyword pair
// or creates a fresh one and queues its alert. Returns the delivery status
// to report.
func (s *Server) alertStatusFor(r *http.Request, snap monitor.Snapshot, m match.Match) (string, error) {
	ctx := r.Context()
	existing, err := s.findings.LatestFindingForSnapshot(ctx, snap.ID)
	if err == nil && existing.KeywordTerm == m.Keyword {
		rec, aerr := s.alerts.AlertForFinding(ctx, existing.ID)
		if aerr != nil {
			if errors.Is(aerr, monitor.ErrNotFound) {
				return "pending", nil
			}
			return "", aerr
		}
		return string(rec.Status), nil
	}
	if err != nil && !errors.Is(err, monitor.ErrNotFound) {
		return "", err
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return "", err
	}
	finding := monitor.Finding{
		ID:          id,
		SnapshotID:  snap.ID,
		KeywordTerm: m.Keyword,
		Offset:      m.Offset,
		Context:     m.Context,
		Flagged:     true,
		FoundAt:     s.clock.Now(),
	}
	if err := s.findings.CreateFinding(ctx, finding); err != nil {
		return "", err
	}
	s.dispatcher.Dispatch(ctx, finding, snap)
	return "pending", nil
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	source, ok := parseSource(req.Source)
	if !ok {
		writeError(w, http.StatusBadRequest, "source must be one of tor, paste, clear, manual")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	owner := usernameFrom(r.Context())
	job, err := s.sched.Submit(r.Context(), req.URL, source, monitor.OriginManual, owner)
	if err != nil {
		if errors.Is(err, monitor.ErrDuplicateInFlight) {
			writeJSON(w, http.StatusAccepted, scanResponse{Status: "merged", JobID: job.ID})
			return
		}
		s.logger.Error("submit scan", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not schedule scan")
		return
	}
	writeJSON(w, http.StatusAccepted, scanResponse{Status: "scheduled", JobID: job.ID})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.sched.Job(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, monitor.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("load job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.sched.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, monitor.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("cancel job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not cancel job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling", "job_id": jobID})
}

// parseSource accepts the wire source names. "clear" and "manual" both map
// onto the clearnet transport; manual only marks how the target arrived.
func parseSource(raw string) (monitor.SourceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "tor":
		return monitor.SourceTor, true
	case "paste":
		return monitor.SourcePaste, true
	case "clear", "clearnet", "manual":
		return monitor.SourceClearnet, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
