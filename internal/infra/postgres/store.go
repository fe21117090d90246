package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

const (
	uniqueViolation     = "23505"
	activeCodeIndexName = "rooms_active_code_idx"
)

// Store implements the room, state and response repositories on PostgreSQL.
// Capacity checks lock the room row; game state updates are conditional on version.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Repositories bundles the store with a quiz source for app.NewService.
func (s *Store) Repositories(quizzes app.QuizRepository) app.Store {
	return app.Store{Rooms: s, States: s, Responses: s, Quizzes: quizzes}
}

func (s *Store) CreateRoom(ctx context.Context, room domain.Room, host domain.Player) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, code, quiz_id, capacity, status, host_id, created_at, last_activity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			room.ID, room.Code, room.QuizID, room.Capacity, string(room.Status), room.HostID, room.CreatedAt, room.LastActivity)
		if isUniqueViolation(err, activeCodeIndexName) {
			return domain.ErrCodeTaken
		}
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		host.RoomID = room.ID
		host.IsHost = true
		return insertPlayer(ctx, tx, host)
	})
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, selectRoom+` WHERE id = $1`, roomID))
}

func (s *Store) FindActiveByCode(ctx context.Context, code string) (domain.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, selectRoom+` WHERE code = $1 AND status = 'active'`, code))
}

func (s *Store) AddPlayer(ctx context.Context, roomID string, player domain.Player, at time.Time) (domain.Player, error) {
	var out domain.Player
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			status   string
			capacity int
			hostID   string
		)
		err := tx.QueryRow(ctx, `SELECT status, capacity, host_id FROM rooms WHERE id = $1 FOR UPDATE`, roomID).
			Scan(&status, &capacity, &hostID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}
		if domain.RoomStatus(status) != domain.RoomActive {
			return domain.ErrRoomInactive
		}

		existing, err := scanPlayer(tx.QueryRow(ctx, `
			UPDATE room_players
			SET connected = TRUE, display_name = COALESCE(NULLIF($3, ''), display_name)
			WHERE room_id = $1 AND player_id = $2
			RETURNING `+playerColumns, roomID, player.ID, player.DisplayName))
		switch {
		case err == nil:
			out = existing
			return touch(ctx, tx, roomID, at)
		case !errors.Is(err, domain.ErrPlayerNotFound):
			return err
		}

		var count int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM room_players WHERE room_id = $1`, roomID).Scan(&count); err != nil {
			return fmt.Errorf("count players: %w", err)
		}
		if count >= capacity {
			return domain.ErrRoomFull
		}
		player.RoomID = roomID
		player.IsHost = player.ID == hostID
		if err := insertPlayer(ctx, tx, player); err != nil {
			return err
		}
		out = player
		return touch(ctx, tx, roomID, at)
	})
	return out, err
}

func (s *Store) RemovePlayer(ctx context.Context, roomID, playerID string, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM room_players WHERE room_id = $1 AND player_id = $2`, roomID, playerID)
		if err != nil {
			return fmt.Errorf("remove player: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrPlayerNotFound
		}
		return touch(ctx, tx, roomID, at)
	})
}

func (s *Store) ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM room_players WHERE room_id = $1 ORDER BY joined_at, player_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	if len(players) == 0 {
		if _, err := s.GetRoom(ctx, roomID); err != nil {
			return nil, err
		}
	}
	return players, nil
}

func (s *Store) SetConnected(ctx context.Context, roomID, playerID string, connected bool, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE room_players SET connected = $3 WHERE room_id = $1 AND player_id = $2`, roomID, playerID, connected)
		if err != nil {
			return fmt.Errorf("set connected: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrPlayerNotFound
		}
		return touch(ctx, tx, roomID, at)
	})
}

func (s *Store) SetHost(ctx context.Context, roomID, playerID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM room_players WHERE room_id = $1 AND player_id = $2)`, roomID, playerID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check player: %w", err)
		}
		if !exists {
			return domain.ErrPlayerNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE room_players SET is_host = (player_id = $2) WHERE room_id = $1`, roomID, playerID); err != nil {
			return fmt.Errorf("move host flag: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE rooms SET host_id = $2 WHERE id = $1`, roomID, playerID); err != nil {
			return fmt.Errorf("set host: %w", err)
		}
		return nil
	})
}

func (s *Store) SetStatus(ctx context.Context, roomID string, status domain.RoomStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE rooms SET status = $2, last_activity = $3 WHERE id = $1`, roomID, string(status), at)
	if isUniqueViolation(err, activeCodeIndexName) {
		return domain.ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("set room status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (s *Store) Touch(ctx context.Context, roomID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE rooms SET last_activity = GREATEST(last_activity, $2) WHERE id = $1`, roomID, at)
	if err != nil {
		return fmt.Errorf("touch room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// MarkInactive flips stale active rooms in one statement, so concurrent sweeps never
// report the same room twice.
func (s *Store) MarkInactive(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE rooms SET status = 'inactive'
		WHERE status = 'active' AND last_activity < $1
		RETURNING id`, before)
	if err != nil {
		return nil, fmt.Errorf("mark rooms inactive: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan swept room: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) InitState(ctx context.Context, state domain.GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode game state: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO game_states (room_id, version, data, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id) DO NOTHING`, state.RoomID, state.Version, data, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("init game state: %w", err)
	}
	return nil
}

func (s *Store) GetState(ctx context.Context, roomID string) (domain.GameState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM game_states WHERE room_id = $1`, roomID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameState{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.GameState{}, fmt.Errorf("load game state: %w", err)
	}
	var state domain.GameState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.GameState{}, fmt.Errorf("decode game state: %w", err)
	}
	return state, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, next domain.GameState) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode game state: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE game_states SET version = $3, data = $4, updated_at = $5
		WHERE room_id = $1 AND version = $2`, next.RoomID, expectedVersion, next.Version, data, next.UpdatedAt)
	if err != nil {
		return fmt.Errorf("swap game state: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetState(ctx, next.RoomID); err != nil {
		return err
	}
	return domain.ErrStateConflict
}

func (s *Store) InsertResponse(ctx context.Context, resp domain.QuestionResponse) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO question_responses
			(room_id, player_id, question_id, question_index, answer, is_correct, response_time_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (room_id, player_id, question_id) DO NOTHING`,
		resp.RoomID, resp.PlayerID, resp.QuestionID, resp.QuestionIndex, resp.Answer, resp.IsCorrect, resp.ResponseTimeMS, resp.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateSubmission
	}
	return nil
}

func (s *Store) GetResponse(ctx context.Context, roomID, playerID, questionID string) (domain.QuestionResponse, error) {
	resp, err := scanResponse(s.pool.QueryRow(ctx, selectResponse+`
		WHERE room_id = $1 AND player_id = $2 AND question_id = $3`, roomID, playerID, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionResponse{}, domain.ErrNotFound
	}
	return resp, err
}

func (s *Store) ListResponses(ctx context.Context, roomID string) ([]domain.QuestionResponse, error) {
	rows, err := s.pool.Query(ctx, selectResponse+` WHERE room_id = $1 ORDER BY submitted_at, player_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	var out []domain.QuestionResponse
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const (
	selectRoom     = `SELECT id, code, quiz_id, capacity, status, host_id, created_at, last_activity FROM rooms`
	playerColumns  = `room_id, player_id, display_name, emoji, kind, is_host, connected, joined_at, npc`
	selectResponse = `SELECT room_id, player_id, question_id, question_index, answer, is_correct, response_time_ms, submitted_at FROM question_responses`
)

func scanRoom(row pgx.Row) (domain.Room, error) {
	var (
		r      domain.Room
		status string
	)
	err := row.Scan(&r.ID, &r.Code, &r.QuizID, &r.Capacity, &status, &r.HostID, &r.CreatedAt, &r.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("scan room: %w", err)
	}
	r.Status = domain.RoomStatus(status)
	return r, nil
}

func scanPlayer(row pgx.Row) (domain.Player, error) {
	var (
		p    domain.Player
		kind string
		npc  []byte
	)
	err := row.Scan(&p.RoomID, &p.ID, &p.DisplayName, &p.Emoji, &kind, &p.IsHost, &p.Connected, &p.JoinedAt, &npc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("scan player: %w", err)
	}
	p.Kind = domain.PlayerKind(kind)
	if len(npc) > 0 {
		var profile domain.NPCProfile
		if err := json.Unmarshal(npc, &profile); err != nil {
			return domain.Player{}, fmt.Errorf("decode npc profile: %w", err)
		}
		p.NPC = &profile
	}
	return p, nil
}

func scanResponse(row pgx.Row) (domain.QuestionResponse, error) {
	var r domain.QuestionResponse
	err := row.Scan(&r.RoomID, &r.PlayerID, &r.QuestionID, &r.QuestionIndex, &r.Answer, &r.IsCorrect, &r.ResponseTimeMS, &r.SubmittedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("scan response: %w", err)
	}
	return r, err
}

func insertPlayer(ctx context.Context, tx pgx.Tx, p domain.Player) error {
	var npc []byte
	if p.NPC != nil {
		raw, err := json.Marshal(p.NPC)
		if err != nil {
			return fmt.Errorf("encode npc profile: %w", err)
		}
		npc = raw
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO room_players (room_id, player_id, display_name, emoji, kind, is_host, connected, joined_at, npc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.RoomID, p.ID, p.DisplayName, p.Emoji, string(p.Kind), p.IsHost, p.Connected, p.JoinedAt, npc)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func touch(ctx context.Context, tx pgx.Tx, roomID string, at time.Time) error {
	if _, err := tx.Exec(ctx, `UPDATE rooms SET last_activity = GREATEST(last_activity, $2) WHERE id = $1`, roomID, at); err != nil {
		return fmt.Errorf("touch room: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}
