// Package httpapi exposes the answer paths and cache maintenance over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"apollorag/internal/adapter/cache"
	"apollorag/internal/domain"
	"apollorag/internal/usecase"
)

const maxBodyBytes = 32 << 20

// Server routes requests to the answer use case.
type Server struct {
	answers *usecase.AnswerUseCase
	cache   *cache.SemanticCache
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewServer(answers *usecase.AnswerUseCase, semanticCache *cache.SemanticCache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		answers: answers,
		cache:   semanticCache,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /question/search/{$}", s.handleQuestion)
	s.mux.HandleFunc("POST /question/search", s.handleQuestion)
	s.mux.HandleFunc("POST /summary/search", s.handleSummary)
	s.mux.HandleFunc("POST /utterance/search", s.handleUtterance)
	s.mux.HandleFunc("POST /image/search/by-image", s.handleByImage)
	s.mux.HandleFunc("POST /image/search/by-description", s.handleByDescription)
	s.mux.HandleFunc("DELETE /cache", s.handleClearCache)
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type searchRequest struct {
	Query               string `json:"query"`
	EnableSemanticCache bool   `json:"enableSemanticCache"`
	EnableRag           bool   `json:"enableRag"`
}

type imageSearchRequest struct {
	ImageBase64 string `json:"imageBase64"`
	ImagePath   string `json:"imagePath"`
}

type matchItem struct {
	Question   string `json:"question,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Utterances string `json:"utterances"`
	Score      string `json:"score"`
}

type textItem struct {
	Text  string `json:"text"`
	Score string `json:"score"`
}

type photoItem struct {
	ImagePath   string `json:"imagePath"`
	Description string `json:"description"`
	Score       string `json:"score"`
}

// answerResponse mirrors the original wire shape: on a cache hit the
// matched list is reported as an empty string.
type answerResponse struct {
	Query            string   `json:"query"`
	RagAnswer        string   `json:"ragAnswer,omitempty"`
	MatchedQuestions any      `json:"matchedQuestions,omitempty"`
	MatchedSummaries any      `json:"matchedSummaries,omitempty"`
	CachedQuery      string   `json:"cachedQuery,omitempty"`
	CachedScore      *float64 `json:"cachedScore,omitempty"`
	EmbeddingTime    string   `json:"embeddingTime"`
	CacheSearchTime  string   `json:"cacheSearchTime,omitempty"`
	SearchTime       string   `json:"searchTime,omitempty"`
	RagTime          string   `json:"ragTime,omitempty"`
}

type utteranceResponse struct {
	Query         string     `json:"query"`
	MatchedTexts  []textItem `json:"matchedTexts"`
	EmbeddingTime string     `json:"embeddingTime"`
	SearchTime    string     `json:"searchTime"`
}

type photoResponse struct {
	Query              string      `json:"query,omitempty"`
	ImagePath          string      `json:"imagePath,omitempty"`
	MatchedPhotographs []photoItem `json:"matchedPhotographs"`
	EmbeddingTime      string      `json:"embeddingTime"`
	SearchTime         string      `json:"searchTime"`
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	s.handleAnswer(w, r, domain.KindQuestion)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.handleAnswer(w, r, domain.KindSummary)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}

	ask := s.answers.AskQuestion
	if kind == domain.KindSummary {
		ask = s.answers.AskSummary
	}
	ans, err := ask(r.Context(), usecase.AnswerRequest{
		Query:               req.Query,
		EnableSemanticCache: req.EnableSemanticCache,
		EnableRag:           req.EnableRag,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := answerResponse{
		Query:           ans.Query,
		RagAnswer:       ans.RagAnswer,
		EmbeddingTime:   millis(ans.Timings.Embedding),
		CacheSearchTime: optionalMillis(ans.Timings.CacheSearch, req.EnableSemanticCache),
	}

	var matched any
	if ans.Cached {
		score := ans.CachedScore
		resp.CachedQuery = ans.CachedQuery
		resp.CachedScore = &score
		matched = ""
	} else {
		items := make([]matchItem, 0, len(ans.Matches))
		for _, m := range ans.Matches {
			items = append(items, matchItem{
				Question:   m.Question,
				Summary:    m.Summary,
				Utterances: usecase.FormatUtterances(m.Utterances),
				Score:      formatScore(m.Score),
			})
		}
		matched = items
		resp.SearchTime = millis(ans.Timings.Search)
		resp.RagTime = optionalMillis(ans.Timings.Rag, req.EnableRag)
	}

	if kind == domain.KindQuestion {
		resp.MatchedQuestions = matched
	} else {
		resp.MatchedSummaries = matched
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.answers.SearchUtterances(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]textItem, 0, len(res.Matches))
	for _, m := range res.Matches {
		items = append(items, textItem{Text: m.Text, Score: formatScore(m.Score)})
	}
	s.writeJSON(w, http.StatusOK, utteranceResponse{
		Query:         res.Query,
		MatchedTexts:  items,
		EmbeddingTime: millis(res.Timings.Embedding),
		SearchTime:    millis(res.Timings.Search),
	})
}

func (s *Server) handleByDescription(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.answers.SearchByDescription(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPhotoResponse(res))
}

func (s *Server) handleByImage(w http.ResponseWriter, r *http.Request) {
	var req imageSearchRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.answers.SearchByImage(r.Context(), usecase.ImageQuery{Base64: req.ImageBase64, Path: req.ImagePath})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPhotoResponse(res))
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cache disabled"})
		return
	}
	if err := s.cache.Clear(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func toPhotoResponse(res *usecase.PhotoSearch) photoResponse {
	items := make([]photoItem, 0, len(res.Matches))
	for _, m := range res.Matches {
		items = append(items, photoItem{
			ImagePath:   m.ImagePath,
			Description: m.Description,
			Score:       formatScore(m.Score),
		})
	}
	return photoResponse{
		Query:              res.Query,
		ImagePath:          res.ImagePath,
		MatchedPhotographs: items,
		EmbeddingTime:      millis(res.Timings.Embedding),
		SearchTime:         millis(res.Timings.Search),
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery),
		errors.Is(err, domain.ErrNoImage),
		errors.Is(err, domain.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

func optionalMillis(d time.Duration, ran bool) string {
	if !ran {
		return ""
	}
	return millis(d)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
