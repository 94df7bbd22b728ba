package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/store"
)

const (
	defaultScoreLimit = 100
	maxScoreLimit     = 1000
	defaultRunLimit   = 20
	maxRunLimit       = 200
)

type scoresResponse struct {
	ScoreDate string            `json:"score_date"`
	Count     int               `json:"count"`
	Scores    []model.FundScore `json:"scores"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listScores handles GET /scores?date=&category=&quartile=&recommendation=&limit=&offset=.
func (s *Server) listScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.ScoreFilter
	var err error

	if f.ScoreDate, err = parseDate(q.Get("date")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Category = strings.TrimSpace(q.Get("category"))
	if v := q.Get("quartile"); v != "" {
		f.Quartile, err = strconv.Atoi(v)
		if err != nil || f.Quartile < 1 || f.Quartile > 4 {
			writeError(w, http.StatusBadRequest, "quartile must be 1-4")
			return
		}
	}
	if v := q.Get("recommendation"); v != "" {
		if f.Recommendation, err = model.ParseRecommendation(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if f.Limit, err = intParam(q.Get("limit"), defaultScoreLimit, maxScoreLimit); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0, 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset: "+err.Error())
		return
	}

	if f.ScoreDate.IsZero() {
		latest, err := s.store.LatestScoreDate(r.Context())
		if err != nil {
			s.storeError(w, err, "no scores recorded")
			return
		}
		f.ScoreDate = latest
	}

	scores, err := s.store.ListScores(r.Context(), f)
	if err != nil {
		s.storeError(w, err, "no scores recorded")
		return
	}
	if scores == nil {
		scores = []model.FundScore{}
	}
	writeJSON(w, http.StatusOK, scoresResponse{
		ScoreDate: f.ScoreDate.Format(time.DateOnly),
		Count:     len(scores),
		Scores:    scores,
	})
}

// fundScore handles GET /funds/{fundID}/score?date=.
func (s *Server) fundScore(w http.ResponseWriter, r *http.Request) {
	fundID, err := strconv.ParseInt(chi.URLParam(r, "fundID"), 10, 64)
	if err != nil || fundID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if date.IsZero() {
		if date, err = s.store.LatestScoreDate(r.Context()); err != nil {
			s.storeError(w, err, "no scores recorded")
			return
		}
	}

	fs, err := s.store.GetFundScore(r.Context(), fundID, date)
	if err != nil {
		s.storeError(w, err, "score not found")
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

// listRuns handles GET /runs?limit=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.storeError(w, err, "")
		return
	}
	if runs == nil {
		runs = []model.RunEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(runs), "runs": runs})
}

// storeError maps store errors onto status codes.
func (s *Server) storeError(w http.ResponseWriter, err error, notFound string) {
	var unavailable *model.StorageUnavailableError
	switch {
	case errors.Is(err, model.ErrNotFound) && notFound != "":
		writeError(w, http.StatusNotFound, notFound)
	case errors.As(err, &unavailable):
		s.log.Warn("api: store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.log.Error("api: store error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return t, nil
}

// intParam parses a non-negative integer query value. Zero hi means no
// upper bound; larger values are capped at hi.
func intParam(v string, def, hi int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	if hi > 0 && n > hi {
		n = hi
	}
	return n, nil
}
