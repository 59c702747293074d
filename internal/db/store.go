package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/susu3304/warboard/internal/war"
)

// The pgx-backed war.Store. Reservations are rows in the reservations
// table; the target and member views are both assembled from them, so
// the two can never disagree. The unit-of-work methods lock the target
// row first, then the member row, which serializes racing writers on
// one target and keeps the lock order acyclic.

const uniqueViolation = "23505"

// CreateWar inserts the war and its target rows in one transaction.
// The partial unique index on (channel_id) WHERE state <> 'ended'
// turns a second active war in the same channel into
// war.ErrDuplicateActiveWar.
func (db *DB) CreateWar(ctx context.Context, w *war.War, targets []war.Target) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	refs, err := marshalRefs(w.MessageRefs)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO wars (war_id, clan_tag, opponent_tag, opponent_name, state, team_size, attacks_per_member, channel_id, message_refs, created_by, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.ClanTag, w.OpponentTag, w.OpponentName, string(w.State),
		w.TeamSize, w.AttacksPerMember, w.ChannelID, refs, w.CreatedBy, w.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return war.ErrDuplicateActiveWar
		}
		return fmt.Errorf("failed to insert war: %w", err)
	}

	for _, t := range targets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO targets (war_id, target_number, opponent_tag, opponent_name, opponent_level, result_kind, result_stars, result_destruction, result_attacker)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			w.ID, t.Number, t.OpponentTag, t.OpponentName, t.OpponentLevel,
			string(resultKind(t.Result)), t.Result.Stars, t.Result.Destruction, t.Result.AttackerRef,
		); err != nil {
			return fmt.Errorf("failed to insert target %d: %w", t.Number, err)
		}
	}

	return tx.Commit(ctx)
}

func (db *DB) WarByID(ctx context.Context, warID string) (*war.War, error) {
	return scanWar(db.pool.QueryRow(ctx, warSelect+` WHERE war_id = $1`, warID))
}

func (db *DB) ActiveWarByChannel(ctx context.Context, channelID string) (*war.War, error) {
	return scanWar(db.pool.QueryRow(ctx,
		warSelect+` WHERE channel_id = $1 AND state <> 'ended' LIMIT 1`, channelID))
}

func (db *DB) ListActiveWars(ctx context.Context) ([]war.War, error) {
	rows, err := db.pool.Query(ctx, warSelect+` WHERE state <> 'ended' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active wars: %w", err)
	}
	defer rows.Close()

	var out []war.War
	for rows.Next() {
		w, err := scanWar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// SetWarState updates a non-ended war's state. The ended state is only
// reachable through EndWar.
func (db *DB) SetWarState(ctx context.Context, warID string, state war.WarState) error {
	ct, err := db.pool.Exec(ctx,
		`UPDATE wars SET state = $2 WHERE war_id = $1 AND state <> 'ended'`,
		warID, string(state),
	)
	if err != nil {
		return fmt.Errorf("failed to update war state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := db.WarByID(ctx, warID); err != nil {
			return err
		}
		return war.ErrWarEnded
	}
	return nil
}

// EndWar is the terminal transition. Ending twice reports
// war.ErrAlreadyEnded without touching the row.
func (db *DB) EndWar(ctx context.Context, warID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var state string
	err = tx.QueryRow(ctx, `SELECT state FROM wars WHERE war_id = $1 FOR UPDATE`, warID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return war.ErrWarNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load war: %w", err)
	}
	if war.WarState(state) == war.StateEnded {
		return war.ErrAlreadyEnded
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wars SET state = 'ended', ended_at = $2 WHERE war_id = $1`,
		warID, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to end war: %w", err)
	}
	return tx.Commit(ctx)
}

func (db *DB) SaveMessageRefs(ctx context.Context, warID string, refs map[int]string) error {
	data, err := marshalRefs(refs)
	if err != nil {
		return err
	}
	ct, err := db.pool.Exec(ctx,
		`UPDATE wars SET message_refs = $2 WHERE war_id = $1`, warID, data)
	if err != nil {
		return fmt.Errorf("failed to save message refs: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return war.ErrWarNotFound
	}
	return nil
}

func (db *DB) TargetByNumber(ctx context.Context, warID string, targetNumber int) (*war.Target, error) {
	t, err := loadTarget(ctx, db.pool, warID, targetNumber, false)
	if err != nil {
		return nil, err
	}
	if err := loadTargetReservations(ctx, db.pool, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (db *DB) ListTargets(ctx context.Context, warID string) ([]war.Target, error) {
	rows, err := db.pool.Query(ctx, targetSelect+
		` WHERE war_id = $1 ORDER BY target_number`, warID)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	byNumber := make(map[int]*war.Target)
	var order []int
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		byNumber[t.Number] = t
		order = append(order, t.Number)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	resRows, err := db.pool.Query(ctx,
		`SELECT target_number, user_id, confidence FROM reservations WHERE war_id = $1`, warID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations: %w", err)
	}
	defer resRows.Close()
	for resRows.Next() {
		var (
			n          int
			userID     string
			confidence *int
		)
		if err := resRows.Scan(&n, &userID, &confidence); err != nil {
			return nil, err
		}
		t, ok := byNumber[n]
		if !ok {
			continue
		}
		t.ReservedBy = append(t.ReservedBy, userID)
		if confidence != nil {
			t.Confidence[userID] = *confidence
		}
	}
	if err := resRows.Err(); err != nil {
		return nil, err
	}

	out := make([]war.Target, 0, len(order))
	for _, n := range order {
		out = append(out, *byNumber[n])
	}
	return out, nil
}

// MemberView assembles the ledger view for one participant. A member
// who never reserved anything is reported with a full budget; the row
// itself is only created on the first reservation attempt.
func (db *DB) MemberView(ctx context.Context, warID, userID string) (*war.Member, error) {
	w, err := db.WarByID(ctx, warID)
	if err != nil {
		return nil, err
	}

	m := &war.Member{
		WarID:              warID,
		UserID:             userID,
		AttacksLeft:        w.AttacksPerMember,
		ConfidenceByTarget: map[int]int{},
	}
	err = db.pool.QueryRow(ctx,
		`SELECT attacks_left FROM members WHERE war_id = $1 AND user_id = $2`,
		warID, userID,
	).Scan(&m.AttacksLeft)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load member: %w", err)
	}
	if err := loadMemberReservations(ctx, db.pool, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateBoard is the atomic read-then-write unit of work over one
// (target, member) pair. The callback sees the pair as loaded under
// row locks; whatever it changed is persisted on commit, and a typed
// error rolls everything back.
func (db *DB) UpdateBoard(ctx context.Context, warID string, targetNumber int, userID string, fn war.BoardUpdate) (*war.Target, *war.Member, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR SHARE so the state read serializes against EndWar's FOR
	// UPDATE: a reserve cannot commit into a war that ended under it.
	w, err := scanWar(tx.QueryRow(ctx, warSelect+` WHERE war_id = $1 FOR SHARE`, warID))
	if err != nil {
		return nil, nil, err
	}

	t, err := loadTarget(ctx, tx, warID, targetNumber, true)
	if err != nil {
		return nil, nil, err
	}

	// Ledger rows appear lazily, initialized with the full budget.
	if _, err := tx.Exec(ctx,
		`INSERT INTO members (war_id, user_id, attacks_left)
         VALUES ($1, $2, $3) ON CONFLICT (war_id, user_id) DO NOTHING`,
		warID, userID, w.AttacksPerMember,
	); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure member: %w", err)
	}
	m := &war.Member{WarID: warID, UserID: userID, ConfidenceByTarget: map[int]int{}}
	if err := tx.QueryRow(ctx,
		`SELECT attacks_left FROM members WHERE war_id = $1 AND user_id = $2 FOR UPDATE`,
		warID, userID,
	).Scan(&m.AttacksLeft); err != nil {
		return nil, nil, fmt.Errorf("failed to lock member: %w", err)
	}

	if err := loadTargetReservations(ctx, tx, t); err != nil {
		return nil, nil, err
	}
	if err := loadMemberReservations(ctx, tx, m); err != nil {
		return nil, nil, err
	}

	wasReserved := t.ReservedByMember(userID)
	prevConfidence, hadConfidence := t.Confidence[userID]
	prevAttacksLeft := m.AttacksLeft

	if err := fn(w, t, m); err != nil {
		return nil, nil, err
	}

	nowReserved := t.ReservedByMember(userID)
	confidence, hasConfidence := t.Confidence[userID]

	switch {
	case nowReserved && !wasReserved:
		if _, err := tx.Exec(ctx,
			`INSERT INTO reservations (war_id, target_number, user_id) VALUES ($1, $2, $3)`,
			warID, targetNumber, userID,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to insert reservation: %w", err)
		}
		m.ReservedTargets = append(m.ReservedTargets, targetNumber)
	case !nowReserved && wasReserved:
		if _, err := tx.Exec(ctx,
			`DELETE FROM reservations WHERE war_id = $1 AND target_number = $2 AND user_id = $3`,
			warID, targetNumber, userID,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to delete reservation: %w", err)
		}
		kept := m.ReservedTargets[:0]
		for _, n := range m.ReservedTargets {
			if n != targetNumber {
				kept = append(kept, n)
			}
		}
		m.ReservedTargets = kept
		delete(m.ConfidenceByTarget, targetNumber)
	}

	if nowReserved && hasConfidence && (!hadConfidence || confidence != prevConfidence) {
		if _, err := tx.Exec(ctx,
			`UPDATE reservations SET confidence = $4 WHERE war_id = $1 AND target_number = $2 AND user_id = $3`,
			warID, targetNumber, userID, confidence,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to update confidence: %w", err)
		}
		m.ConfidenceByTarget[targetNumber] = confidence
	}

	if m.AttacksLeft != prevAttacksLeft {
		if _, err := tx.Exec(ctx,
			`UPDATE members SET attacks_left = $3 WHERE war_id = $1 AND user_id = $2`,
			warID, userID, m.AttacksLeft,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to update attacks left: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit: %w", err)
	}
	return t, m, nil
}

// UpdateResult is the compare-and-write unit of work over one target's
// result. The new value is written only when the callback says so.
func (db *DB) UpdateResult(ctx context.Context, warID string, targetNumber int, fn war.ResultUpdate) (*war.Target, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	w, err := scanWar(tx.QueryRow(ctx, warSelect+` WHERE war_id = $1 FOR SHARE`, warID))
	if err != nil {
		return nil, err
	}
	t, err := loadTarget(ctx, tx, warID, targetNumber, true)
	if err != nil {
		return nil, err
	}
	if err := loadTargetReservations(ctx, tx, t); err != nil {
		return nil, err
	}

	result, write, err := fn(w, t)
	if err != nil {
		return nil, err
	}
	if write {
		if _, err := tx.Exec(ctx,
			`UPDATE targets SET result_kind = $3, result_stars = $4, result_destruction = $5, result_attacker = $6
             WHERE war_id = $1 AND target_number = $2`,
			warID, targetNumber, string(resultKind(result)), result.Stars, result.Destruction, result.AttackerRef,
		); err != nil {
			return nil, fmt.Errorf("failed to update result: %w", err)
		}
		t.Result = result
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const warSelect = `SELECT war_id, clan_tag, opponent_tag, opponent_name, state, team_size, attacks_per_member, channel_id, message_refs, created_by, created_at, ended_at FROM wars`

func scanWar(row rowScanner) (*war.War, error) {
	var (
		w     war.War
		state string
		refs  []byte
	)
	err := row.Scan(&w.ID, &w.ClanTag, &w.OpponentTag, &w.OpponentName, &state,
		&w.TeamSize, &w.AttacksPerMember, &w.ChannelID, &refs, &w.CreatedBy,
		&w.CreatedAt, &w.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, war.ErrWarNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan war: %w", err)
	}
	w.State = war.WarState(state)
	w.MessageRefs, err = unmarshalRefs(refs)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

const targetSelect = `SELECT war_id, target_number, opponent_tag, opponent_name, opponent_level, result_kind, result_stars, result_destruction, result_attacker FROM targets`

func scanTarget(row rowScanner) (*war.Target, error) {
	var (
		t    war.Target
		kind string
	)
	err := row.Scan(&t.WarID, &t.Number, &t.OpponentTag, &t.OpponentName,
		&t.OpponentLevel, &kind, &t.Result.Stars, &t.Result.Destruction,
		&t.Result.AttackerRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, war.ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan target: %w", err)
	}
	t.Result.Kind = war.ResultKind(kind)
	t.Confidence = map[string]int{}
	return &t, nil
}

func loadTarget(ctx context.Context, q querier, warID string, targetNumber int, forUpdate bool) (*war.Target, error) {
	query := targetSelect + ` WHERE war_id = $1 AND target_number = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanTarget(q.QueryRow(ctx, query, warID, targetNumber))
}

func loadTargetReservations(ctx context.Context, q querier, t *war.Target) error {
	rows, err := q.Query(ctx,
		`SELECT user_id, confidence FROM reservations
         WHERE war_id = $1 AND target_number = $2 ORDER BY user_id`,
		t.WarID, t.Number)
	if err != nil {
		return fmt.Errorf("failed to load target reservations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			userID     string
			confidence *int
		)
		if err := rows.Scan(&userID, &confidence); err != nil {
			return err
		}
		t.ReservedBy = append(t.ReservedBy, userID)
		if confidence != nil {
			t.Confidence[userID] = *confidence
		}
	}
	return rows.Err()
}

func loadMemberReservations(ctx context.Context, q querier, m *war.Member) error {
	rows, err := q.Query(ctx,
		`SELECT target_number, confidence FROM reservations
         WHERE war_id = $1 AND user_id = $2 ORDER BY target_number`,
		m.WarID, m.UserID)
	if err != nil {
		return fmt.Errorf("failed to load member reservations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n          int
			confidence *int
		)
		if err := rows.Scan(&n, &confidence); err != nil {
			return err
		}
		m.ReservedTargets = append(m.ReservedTargets, n)
		if confidence != nil {
			m.ConfidenceByTarget[n] = *confidence
		}
	}
	return rows.Err()
}

// resultKind normalizes a zero-valued Kind to "unset" before it hits
// the column.
func resultKind(r war.Result) war.ResultKind {
	if r.Kind == "" {
		return war.ResultUnset
	}
	return r.Kind
}

func marshalRefs(refs map[int]string) ([]byte, error) {
	if refs == nil {
		refs = map[int]string{}
	}
	encoded := make(map[string]string, len(refs))
	for n, id := range refs {
		encoded[strconv.Itoa(n)] = id
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message refs: %w", err)
	}
	return data, nil
}

func unmarshalRefs(data []byte) (map[int]string, error) {
	out := map[int]string{}
	if len(data) == 0 {
		return out, nil
	}
	var encoded map[string]string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("failed to decode message refs: %w", err)
	}
	for k, v := range encoded {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[n] = v
	}
	return out, nil
}
