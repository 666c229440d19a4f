package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trivia-forge-service/internal/app"
	"trivia-forge-service/internal/domain"
	"trivia-forge-service/internal/infra/memory"
)

func newTestRouter(t *testing.T) (*http.ServeMux, *memory.Inventory) {
	t.Helper()

	// correct option is always index 0, so the test client can play perfectly
	questions := make([]domain.Question, 0, 40)
	for i := 0; i < 40; i++ {
		questions = append(questions, domain.Question{
			ID:           fmt.Sprintf("q%d", i),
			Text:         "?",
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 0,
			Explanation:  "because",
		})
	}

	seasons := memory.NewSeasonRepo()
	if err := seasons.Create(context.Background(), &domain.Season{
		ID:       "2025-q2",
		StartsAt: time.Now().AddDate(0, -1, 0),
		EndsAt:   time.Now().AddDate(0, 2, 0),
		Active:   true,
	}); err != nil {
		t.Fatalf("seed season: %v", err)
	}

	game := app.NewGameService(
		memory.NewGuard(memory.DefaultGuardLimits()),
		app.NewSelector(memory.NewQuestionSource(map[string][]domain.Question{"history": questions}), app.DefaultSelectorConfig()),
		memory.NewSessionStore(15*time.Minute),
		memory.NewSeenStore(),
		memory.NewLadder(),
		memory.NewHistoryRepo(),
		memory.NewEligibilityRepo(),
		memory.NewSeasonPointsRepo(),
		seasons,
		app.DefaultGameConfig(),
		nil,
	)
	inventory := memory.NewInventory()
	forge := app.NewForgeService(inventory, memory.NewForgeRepo(), memory.NewRecordingLedger(), nil)
	return NewRouter(game, forge, nil), inventory
}

func TestWebSocketPlayFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/play?identity=alice&registered=true"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{
		"type":    "start",
		"payload": map[string]any{"category": "history"},
	}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	_, session := readNext(conn, t, "session")
	questions, ok := session["questions"].([]any)
	if !ok || len(questions) != 10 {
		t.Fatalf("expected 10 questions in session payload, got %v", session["questions"])
	}

	// out-of-order submission is rejected with a stable code
	if err := conn.WriteJSON(map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionIndex": 5, "optionIndex": 0, "elapsedMs": 1000},
	}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	_, errPayload := readNext(conn, t, "error")
	if errPayload["code"] != "INVALID_QUESTION_INDEX" {
		t.Fatalf("expected INVALID_QUESTION_INDEX, got %v", errPayload["code"])
	}

	for i := 0; i < 10; i++ {
		if err := conn.WriteJSON(map[string]any{
			"type":    "answer",
			"payload": map[string]any{"questionIndex": i, "optionIndex": 0, "elapsedMs": 1500},
		}); err != nil {
			t.Fatalf("write answer %d: %v", i, err)
		}
		_, result := readNext(conn, t, "answerResult")
		if result["correct"] != true {
			t.Fatalf("answer %d should be correct, got %v", i, result)
		}
	}

	if err := conn.WriteJSON(map[string]any{"type": "complete"}); err != nil {
		t.Fatalf("write complete: %v", err)
	}
	_, result := readNext(conn, t, "result")
	if result["perfect"] != true || result["won"] != true {
		t.Fatalf("expected perfect win, got %v", result)
	}
	eligibility, ok := result["eligibility"].(map[string]any)
	if !ok {
		t.Fatalf("perfect session should carry an eligibility, got %v", result["eligibility"])
	}

	if err := conn.WriteJSON(map[string]any{
		"type":    "claim",
		"payload": map[string]any{"eligibilityId": eligibility["id"]},
	}); err != nil {
		t.Fatalf("write claim: %v", err)
	}
	readNext(conn, t, "claimed")

	if err := conn.WriteJSON(map[string]any{
		"type":    "leaderboard",
		"payload": map[string]any{"limit": 5},
	}); err != nil {
		t.Fatalf("write leaderboard: %v", err)
	}
	var rows struct {
		Type    string           `json:"type"`
		Payload []map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&rows); err != nil {
		t.Fatalf("read leaderboard: %v", err)
	}
	if rows.Type != "leaderboard" || len(rows.Payload) != 1 {
		t.Fatalf("expected one leaderboard row, got %+v", rows)
	}
	if rows.Payload[0]["identity"] != "alice" {
		t.Fatalf("expected alice on top, got %v", rows.Payload[0])
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	router, _ := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/play"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected dial to fail without identity")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}
