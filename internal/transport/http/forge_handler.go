package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"trivia-forge-service/internal/app"
	"trivia-forge-service/internal/domain"
)

// ForgeHandler exposes the forge life cycle over REST: request, status lookup
// and the resolution callback from the ledger collaborator.
type ForgeHandler struct {
	service  *app.ForgeService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewForgeHandler(service *app.ForgeService, logger *slog.Logger) *ForgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForgeHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

type forgeRequestBody struct {
	Type     string   `json:"type" validate:"required,oneof=category master season"`
	Category string   `json:"category" validate:"omitempty,max=64"`
	SeasonID string   `json:"seasonId" validate:"omitempty,max=32"`
	Inputs   []string `json:"inputs" validate:"required,min=1,max=32,dive,required"`
}

type resolutionBody struct {
	Outcome string `json:"outcome" validate:"required,oneof=processing confirmed failed"`
	Output  string `json:"output" validate:"omitempty,max=128"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeDomainError translates service errors into HTTP responses. Rule
// violations are 422s carrying the violated rule as the code.
func (h *ForgeHandler) writeDomainError(w http.ResponseWriter, err error) {
	var ruleErr *domain.RuleError
	switch {
	case errors.As(err, &ruleErr):
		writeError(w, http.StatusUnprocessableEntity, "RULE_"+ruleErr.Rule, ruleErr.Error())
	case errors.Is(err, domain.ErrOperationNotFound):
		writeError(w, http.StatusNotFound, "OPERATION_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	default:
		h.logger.Error("forge request", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// Request handles POST /forge. The requesting identity arrives in the
// X-Identity header set by the gateway.
func (h *ForgeHandler) Request(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get("X-Identity")
	if identity == "" {
		writeError(w, http.StatusUnauthorized, "MISSING_IDENTITY", "missing X-Identity header")
		return
	}

	var body forgeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_PAYLOAD", "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_PAYLOAD", err.Error())
		return
	}

	op, err := h.service.Request(r.Context(), domain.ForgeRequest{
		Type:     domain.ForgeType(body.Type),
		Identity: identity,
		Category: body.Category,
		SeasonID: body.SeasonID,
		Inputs:   body.Inputs,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

// Get handles GET /forge/{id}.
func (h *ForgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	op, err := h.service.GetOperation(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// Resolve handles POST /forge/{id}/resolution, the callback reporting how the
// ledger write ended.
func (h *ForgeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body resolutionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_PAYLOAD", "invalid request body")
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_PAYLOAD", err.Error())
		return
	}

	if err := h.service.ObserveResolution(r.Context(), r.PathValue("id"), domain.ForgeStatus(body.Outcome), body.Output); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LeaderboardHandler serves the decoded season standings over REST.
type LeaderboardHandler struct {
	service *app.GameService
	logger  *slog.Logger
}

func NewLeaderboardHandler(service *app.GameService, logger *slog.Logger) *LeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardHandler{service: service, logger: logger}
}

// Get handles GET /leaderboard?season=&limit=.
func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "BAD_PAYLOAD", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	rows, err := h.service.Leaderboard(r.Context(), r.URL.Query().Get("season"), limit)
	if err != nil {
		if errors.Is(err, domain.ErrSeasonNotFound) {
			writeError(w, http.StatusNotFound, "SEASON_NOT_FOUND", err.Error())
			return
		}
		h.logger.Error("leaderboard", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
