package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nexaledger/platform/libs/auth"
	"github.com/nexaledger/platform/libs/httpx"
	"github.com/nexaledger/platform/services/recorder-service/internal/storage"
)

const forbiddenMessage = "You do not have access to this resource."

type Lister interface {
	List(ctx context.Context, q storage.Query) (storage.Page, error)
}

type LogsHandler struct {
	repo   Lister
	logger *slog.Logger
}

func NewLogsHandler(repo Lister, logger *slog.Logger) *LogsHandler {
	return &LogsHandler{repo: repo, logger: logger}
}

// List serves GET /api/v1/logs to administrators.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get(auth.HeaderRole)), auth.RoleAdmin) {
		writeError(w, http.StatusForbidden, forbiddenMessage)
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.repo.List(r.Context(), q)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidSort):
			writeError(w, http.StatusBadRequest, "Invalid sortBy field.")
			return
		case errors.Is(err, storage.ErrPageRange):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("page must be at most %d", storage.MaxPage))
			return
		case errors.Is(err, storage.ErrInvalidQuery):
			writeError(w, http.StatusBadRequest, "invalid query")
			return
		}
		httpx.Logger(r.Context(), h.logger).Error("failed to list audit logs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if page.Logs == nil {
		page.Logs = []storage.Log{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}

func parseQuery(r *http.Request) (storage.Query, error) {
	v := r.URL.Query()
	q := storage.Query{
		SortBy:        strings.TrimSpace(v.Get("sortBy")),
		SortDirection: strings.TrimSpace(v.Get("sortDirection")),
		UserID:        strings.TrimSpace(v.Get("userId")),
		Action:        strings.TrimSpace(v.Get("action")),
	}
	var err error
	if q.Page, err = intParam(v.Get("page"), "page"); err != nil {
		return storage.Query{}, err
	}
	if q.PageSize, err = intParam(v.Get("pageSize"), "pageSize"); err != nil {
		return storage.Query{}, err
	}
	if raw := strings.TrimSpace(v.Get("empresaId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return storage.Query{}, errors.New("empresaId must be an integer")
		}
		q.EmpresaID = &id
	}
	return q, nil
}

func intParam(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
