package app_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type scriptedStrategy struct {
	answer string
	delay  time.Duration
}

func (s scriptedStrategy) Decide(domain.Player, domain.Question) (string, time.Duration) {
	return s.answer, s.delay
}

func TestNPCAnswersThroughSubmissionPipeline(t *testing.T) {
	h := newHarness(t, withServiceOption(app.WithStrategy(scriptedStrategy{answer: "a", delay: 3 * time.Second})))
	room := h.room(4)
	npc, err := h.svc.AddNPC(h.ctx, room.ID, "A", "Robo", domain.NPCProfile{Accuracy: 1, Chatty: true})
	require.NoError(t, err)
	assert.True(t, npc.IsNPC())

	events, cancel, err := h.svc.Subscribe(h.ctx, room.ID, 0)
	require.NoError(t, err)
	defer cancel()

	_, err = h.svc.StartGame(h.ctx, room.ID, "A")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	assert.False(t, h.state(room.ID).HasAnswered(npc.ID))

	h.clock.Advance(3 * time.Second)
	state := h.state(room.ID)
	require.Equal(t, domain.PhaseQuestion, state.Phase, "the host has not answered yet")
	assert.True(t, state.HasAnswered(npc.ID))

	resp, err := h.store.GetResponse(h.ctx, room.ID, npc.ID, "q1")
	require.NoError(t, err)
	assert.True(t, resp.IsCorrect)
	assert.Equal(t, int64(3000), resp.ResponseTimeMS)

	board, err := h.svc.Leaderboard(h.ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, npc.ID, board[0].PlayerID)
	assert.True(t, board[0].IsNPC)
	assert.Equal(t, 100, board[0].Score)

	var chatter []domain.Message
	for len(events) > 0 {
		ev := <-events
		if ev.Type == domain.EventMessage && ev.Message.Kind == domain.MessageNPCResponse {
			chatter = append(chatter, *ev.Message)
		}
	}
	require.Len(t, chatter, 1)
	assert.Equal(t, npc.ID, chatter[0].SenderID)
}

func TestNPCCannotAnswerTwiceAcrossQuestions(t *testing.T) {
	h := newHarness(t, withServiceOption(app.WithStrategy(scriptedStrategy{answer: "a", delay: time.Second})))
	room := h.room(4)
	npc, err := h.svc.AddNPC(h.ctx, room.ID, "A", "Robo", domain.NPCProfile{})
	require.NoError(t, err)

	_, err = h.svc.StartGame(h.ctx, room.ID, "A")
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	responses, err := h.store.ListResponses(h.ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, responses, 2)
	for _, r := range responses {
		assert.Equal(t, npc.ID, r.PlayerID)
	}
	assert.Equal(t, domain.PhaseCompleted, h.state(room.ID).Phase)
}

func TestNPCTimersStopWithRoom(t *testing.T) {
	h := newHarness(t, withServiceOption(app.WithStrategy(scriptedStrategy{answer: "a", delay: 3 * time.Second})))
	room := h.room(4)
	_, err := h.svc.AddNPC(h.ctx, room.ID, "A", "Robo", domain.NPCProfile{})
	require.NoError(t, err)
	_, err = h.svc.StartGame(h.ctx, room.ID, "A")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)

	require.NoError(t, h.svc.LeaveRoom(h.ctx, room.ID, "A"))
	h.clock.Advance(10 * time.Second)

	responses, err := h.store.ListResponses(h.ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, responses)
}

func TestNPCSeatCannotUseHumanInputs(t *testing.T) {
	h := newHarness(t, withServiceOption(app.WithStrategy(scriptedStrategy{answer: "a", delay: time.Minute})))
	room := h.room(4, "B")
	npc, err := h.svc.AddNPC(h.ctx, room.ID, "A", "Robo", domain.NPCProfile{})
	require.NoError(t, err)
	_, err = h.svc.StartGame(h.ctx, room.ID, "A")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)

	_, err = h.answer(room.ID, npc.ID, "q1", "b")
	assert.ErrorIs(t, err, domain.ErrNotHuman)
	_, err = h.svc.SendChat(h.ctx, room.ID, npc.ID, "I am a bot, trust me")
	assert.ErrorIs(t, err, domain.ErrNotHuman)

	assert.False(t, h.state(room.ID).HasAnswered(npc.ID))
	_, err = h.store.GetResponse(h.ctx, room.ID, npc.ID, "q1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOnlyHostAddsNPCs(t *testing.T) {
	h := newHarness(t)
	room := h.room(4, "B")
	_, err := h.svc.AddNPC(h.ctx, room.ID, "B", "Robo", domain.NPCProfile{})
	assert.ErrorIs(t, err, domain.ErrNotHost)
}

func TestRandomStrategyHonoursProfile(t *testing.T) {
	q := testQuiz().Questions[0]
	st := app.NewRandomStrategy(42)

	sharp := domain.Player{Kind: domain.PlayerNPC, NPC: &domain.NPCProfile{Accuracy: 1, MinDelay: time.Second, MaxDelay: 2 * time.Second}}
	dull := domain.Player{Kind: domain.PlayerNPC, NPC: &domain.NPCProfile{Accuracy: 0, MinDelay: time.Second, MaxDelay: time.Second}}
	for i := 0; i < 50; i++ {
		answer, delay := st.Decide(sharp, q)
		assert.Equal(t, "a", answer)
		assert.GreaterOrEqual(t, delay, time.Second)
		assert.LessOrEqual(t, delay, 2*time.Second)

		answer, delay = st.Decide(dull, q)
		assert.NotEqual(t, "a", answer)
		assert.Equal(t, time.Second, delay)
	}
}
