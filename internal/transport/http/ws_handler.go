package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"trivia-forge-service/internal/app"
	"trivia-forge-service/internal/domain"
)

// WSHandler drives one play session per connection: start, in-order answers,
// completion and claims all travel over the same socket.
type WSHandler struct {
	service  *app.GameService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(service *app.GameService, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Category string `json:"category"`
}

type answerPayload struct {
	QuestionIndex int   `json:"questionIndex"`
	OptionIndex   int   `json:"optionIndex"`
	ElapsedMs     int64 `json:"elapsedMs"`
}

type claimPayload struct {
	EligibilityID string `json:"eligibilityId"`
}

type leaderboardPayload struct {
	SeasonID string `json:"seasonId"`
	Limit    int    `json:"limit"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode maps domain sentinels to wire codes clients branch on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrDailyLimitReached):
		return "DAILY_LIMIT_REACHED"
	case errors.Is(err, domain.ErrCooldownActive):
		return "COOLDOWN_ACTIVE"
	case errors.Is(err, domain.ErrActiveSessionExists):
		return "ACTIVE_SESSION_EXISTS"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, domain.ErrSessionConflict):
		return "SESSION_CONFLICT"
	case errors.Is(err, domain.ErrInvalidQuestionIndex):
		return "INVALID_QUESTION_INDEX"
	case errors.Is(err, domain.ErrAnswerTimeout):
		return "ANSWER_TIMEOUT"
	case errors.Is(err, domain.ErrInsufficientQuestions):
		return "INSUFFICIENT_QUESTIONS"
	case errors.Is(err, domain.ErrCategoryNotFound):
		return "CATEGORY_NOT_FOUND"
	case errors.Is(err, domain.ErrEligibilityNotFound):
		return "ELIGIBILITY_NOT_FOUND"
	case errors.Is(err, domain.ErrEligibilityNotActive):
		return "ELIGIBILITY_NOT_ACTIVE"
	default:
		return "INTERNAL"
	}
}

// ServeWS upgrades the request and runs the per-connection message loop.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identityKey := r.URL.Query().Get("identity")
	if identityKey == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}
	identity := domain.Identity{
		Key:        identityKey,
		Registered: r.URL.Query().Get("registered") == "true",
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade", "err", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("ws write", "err", err)
				return
			}
		}
	}()

	// the live session owned by this connection, if any
	var sessionID string

	sendErr := func(err error) {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: err.Error()}}
	}

	// a category in the query starts the session on connect
	if category := r.URL.Query().Get("category"); category != "" {
		view, err := h.service.Start(r.Context(), identity, category)
		if err != nil {
			sendErr(err)
		} else {
			sessionID = view.ID
			send <- outboundMessage[any]{Type: "session", Payload: view}
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		switch inbound.Type {
		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.Category == "" {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "invalid start payload"}}
				continue
			}
			view, err := h.service.Start(r.Context(), identity, payload.Category)
			if err != nil {
				sendErr(err)
				continue
			}
			sessionID = view.ID
			send <- outboundMessage[any]{Type: "session", Payload: view}

		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "invalid answer payload"}}
				continue
			}
			if sessionID == "" {
				sendErr(domain.ErrSessionNotFound)
				continue
			}
			result, err := h.service.SubmitAnswer(r.Context(), sessionID, payload.QuestionIndex, payload.OptionIndex, payload.ElapsedMs)
			if err != nil {
				sendErr(err)
				continue
			}
			send <- outboundMessage[any]{Type: "answerResult", Payload: result}

		case "complete":
			if sessionID == "" {
				sendErr(domain.ErrSessionNotFound)
				continue
			}
			result, err := h.service.Complete(r.Context(), sessionID)
			if err != nil {
				sendErr(err)
				continue
			}
			sessionID = ""
			send <- outboundMessage[any]{Type: "result", Payload: result}

		case "claim":
			var payload claimPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.EligibilityID == "" {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "invalid claim payload"}}
				continue
			}
			if err := h.service.RecordClaim(r.Context(), identity, payload.EligibilityID); err != nil {
				sendErr(err)
				continue
			}
			send <- outboundMessage[any]{Type: "claimed", Payload: claimPayload{EligibilityID: payload.EligibilityID}}

		case "leaderboard":
			var payload leaderboardPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "invalid leaderboard payload"}}
				continue
			}
			if payload.Limit <= 0 || payload.Limit > 100 {
				payload.Limit = 10
			}
			rows, err := h.service.Leaderboard(r.Context(), payload.SeasonID, payload.Limit)
			if err != nil {
				sendErr(err)
				continue
			}
			send <- outboundMessage[any]{Type: "leaderboard", Payload: rows}

		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "unsupported message type"}}
		}
	}

	close(send)
	<-writerDone
}
