package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

// Strategy decides what an NPC answers and how long it "thinks".
type Strategy interface {
	Decide(npc domain.Player, q domain.Question) (answer string, delay time.Duration)
}

// RandomStrategy answers correctly with the NPC's accuracy and waits a uniform
// delay between its min and max.
type RandomStrategy struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomStrategy(seed int64) *RandomStrategy {
	return &RandomStrategy{rnd: rand.New(rand.NewSource(seed))}
}

func (r *RandomStrategy) Decide(npc domain.Player, q domain.Question) (string, time.Duration) {
	profile := domain.NPCProfile{Accuracy: 0.5, MinDelay: time.Second, MaxDelay: 5 * time.Second}
	if npc.NPC != nil {
		profile = *npc.NPC
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delay := profile.MinDelay
	if spread := profile.MaxDelay - profile.MinDelay; spread > 0 {
		delay += time.Duration(r.rnd.Int63n(int64(spread) + 1))
	}

	correct := q.CorrectOption()
	if r.rnd.Float64() < profile.Accuracy || len(q.Options) < 2 {
		return correct, delay
	}
	wrong := make([]string, 0, len(q.Options)-1)
	for _, opt := range q.Options {
		if opt.ID != correct {
			wrong = append(wrong, opt.ID)
		}
	}
	return wrong[r.rnd.Intn(len(wrong))], delay
}

// npcDriver schedules NPC answers through the same pipeline as human submissions.
type npcDriver struct {
	svc *Service

	mu     sync.Mutex
	timers map[string]map[string]Timer
}

func newNPCDriver(svc *Service) *npcDriver {
	return &npcDriver{svc: svc, timers: make(map[string]map[string]Timer)}
}

// questionOpened arms one submission per NPC for the question that just opened.
func (d *npcDriver) questionOpened(roomID string, q domain.Question, state domain.GameState) {
	ctx := context.Background()
	players, err := d.svc.store.Rooms.ListPlayers(ctx, roomID)
	if err != nil {
		d.svc.logger.Warn("npc roster lookup failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	now := d.svc.clock.Now()
	opened := now
	if state.QuestionStartedAt != nil {
		opened = *state.QuestionStartedAt
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.timers[roomID]
	if !ok {
		room = make(map[string]Timer)
		d.timers[roomID] = room
	}
	for _, p := range players {
		if !p.IsNPC() || state.HasAnswered(p.ID) {
			continue
		}
		key := fmt.Sprintf("%s|%d", p.ID, state.QuestionIndex)
		if _, armed := room[key]; armed {
			continue
		}
		answer, think := d.svc.strategy.Decide(p, q)
		wait := opened.Add(think).Sub(now)
		if wait < 0 {
			wait = 0
		}
		npc, questionID := p, q.ID
		room[key] = d.svc.clock.AfterFunc(wait, func() {
			d.submit(npc, questionID, answer, think)
		})
	}
}

func (d *npcDriver) submit(npc domain.Player, questionID, answer string, think time.Duration) {
	res, err := d.svc.recordAnswer(context.Background(), Submission{
		RoomID:       npc.RoomID,
		PlayerID:     npc.ID,
		QuestionID:   questionID,
		Answer:       answer,
		ResponseTime: think,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrPhaseMismatch) && !errors.Is(err, domain.ErrDuplicateSubmission) {
			d.svc.logger.Warn("npc submission failed",
				zap.String("room_id", npc.RoomID), zap.String("player_id", npc.ID), zap.Error(err))
		}
		return
	}
	if npc.NPC != nil && npc.NPC.Chatty {
		line := "Hmm, that was a tough one..."
		if res.Response.IsCorrect {
			line = "Easy! I know my civics."
		}
		d.svc.npcMessage(npc.RoomID, npc, line)
	}
}

func (d *npcDriver) stopRoom(roomID string) {
	d.mu.Lock()
	room := d.timers[roomID]
	delete(d.timers, roomID)
	d.mu.Unlock()
	for _, t := range room {
		t.Stop()
	}
}

func (d *npcDriver) stopAll() {
	d.mu.Lock()
	all := d.timers
	d.timers = make(map[string]map[string]Timer)
	d.mu.Unlock()
	for _, room := range all {
		for _, t := range room {
			t.Stop()
		}
	}
}
