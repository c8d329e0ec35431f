package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const participantColumns = "p.id, p.meeting_id, p.account_id, a.username, p.role, p.is_muted, p.hand_raised, p.hand_raised_at, p.join_time, p.leave_time"

func (db *PgMeetingRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.CreatedAt, &u.UpdatedAt)

	return u, err
}

func (db *PgMeetingRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email, created_at, updated_at",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.CreatedAt, &u.UpdatedAt)

	return u, err
}

func (db *PgMeetingRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.CreatedAt, &u.UpdatedAt)

	return u, err
}

func (db *PgMeetingRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)

	return u, err
}

// CreateMeeting inserts the meeting and seats its owner as the host
// participant in a single transaction, so a meeting is never observable
// without an active host.
func (db *PgMeetingRepository) CreateMeeting(ctx context.Context, params CreateMeetingParams) (Meeting, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Meeting{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res := tx.QueryRowContext(ctx,
		"INSERT INTO meetings (external_id, title, status, owner_id, chat_enabled, screen_share_enabled, require_admission, whitelist, created_at, updated_at) "+
			"VALUES ($1, $2, 'active', $3, $4, $5, $6, $7, $8, $8) "+
			"RETURNING id, external_id, title, status, owner_id, chat_enabled, screen_share_enabled, require_admission, whitelist, created_at, updated_at",
		params.ExternalId,
		params.Title,
		params.OwnerId,
		params.ChatEnabled,
		params.ScreenShareEnabled,
		params.RequireAdmission,
		pq.Array(params.Whitelist),
		now,
	)

	var m Meeting
	err = res.Scan(
		&m.Id,
		&m.ExternalId,
		&m.Title,
		&m.Status,
		&m.OwnerId,
		&m.ChatEnabled,
		&m.ScreenShareEnabled,
		&m.RequireAdmission,
		pq.Array(&m.Whitelist),
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return Meeting{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO participants (meeting_id, account_id, role, join_time) VALUES ($1, $2, 'host', $3)",
		m.Id,
		params.OwnerId,
		now,
	)
	if err != nil {
		return Meeting{}, err
	}

	if err = tx.Commit(); err != nil {
		return Meeting{}, err
	}

	return m, nil
}

func (db *PgMeetingRepository) GetMeetingByExternalId(ctx context.Context, externalId string) (Meeting, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, external_id, title, status, owner_id, spotlight_participant_id, chat_enabled, screen_share_enabled, require_admission, whitelist, created_at, updated_at "+
			"FROM meetings WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	return scanMeeting(row)
}

func scanMeeting(row *sql.Row) (Meeting, error) {
	var m Meeting
	var spotlight sql.NullInt64
	err := row.Scan(
		&m.Id,
		&m.ExternalId,
		&m.Title,
		&m.Status,
		&m.OwnerId,
		&spotlight,
		&m.ChatEnabled,
		&m.ScreenShareEnabled,
		&m.RequireAdmission,
		pq.Array(&m.Whitelist),
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if spotlight.Valid {
		id := int(spotlight.Int64)
		m.SpotlightParticipantId = &id
	}

	return m, err
}

// SetSpotlight writes the spotlight reference only when the target is
// still an active participant of the meeting; clearing always succeeds.
// Zero rows means the meeting is gone, inactive, or the target isn't an
// active participant, surfaced as sql.ErrNoRows.
func (db *PgMeetingRepository) SetSpotlight(ctx context.Context, meetingId int, participantId *int) (Meeting, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE meetings SET spotlight_participant_id = $2, updated_at = $3 "+
			"WHERE id = $1 AND status = 'active' AND ($2::int IS NULL OR EXISTS ("+
			"SELECT 1 FROM participants WHERE id = $2 AND meeting_id = $1 AND leave_time IS NULL)) "+
			"RETURNING id, external_id, title, status, owner_id, spotlight_participant_id, chat_enabled, screen_share_enabled, require_admission, whitelist, created_at, updated_at",
		meetingId,
		participantId,
		time.Now().UTC(),
	)

	return scanMeeting(row)
}

// EndMeeting closes the meeting and soft-removes every remaining active
// participant in one transaction.
func (db *PgMeetingRepository) EndMeeting(ctx context.Context, meetingId int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"UPDATE meetings SET status = 'ended', spotlight_participant_id = NULL, updated_at = $2 "+
			"WHERE id = $1 AND status <> 'ended'",
		meetingId,
		now,
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE participants SET leave_time = $2 WHERE meeting_id = $1 AND leave_time IS NULL",
		meetingId,
		now,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgMeetingRepository) CreateParticipant(ctx context.Context, params CreateParticipantParams) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH inserted AS ("+
			"INSERT INTO participants (meeting_id, account_id, role, join_time) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, meeting_id, account_id, role, is_muted, hand_raised, hand_raised_at, join_time, leave_time) "+
			"SELECT p.id, p.meeting_id, p.account_id, a.username, p.role, p.is_muted, p.hand_raised, p.hand_raised_at, p.join_time, p.leave_time "+
			"FROM inserted p JOIN accounts a ON a.id = p.account_id",
		params.MeetingId,
		params.AccountId,
		params.Role,
		time.Now().UTC(),
	)

	return scanParticipant(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	var handRaisedAt, leaveTime sql.NullTime
	err := row.Scan(
		&p.Id,
		&p.MeetingId,
		&p.AccountId,
		&p.Username,
		&p.Role,
		&p.IsMuted,
		&p.HandRaised,
		&handRaisedAt,
		&p.JoinTime,
		&leaveTime,
	)
	if handRaisedAt.Valid {
		t := handRaisedAt.Time
		p.HandRaisedAt = &t
	}
	if leaveTime.Valid {
		t := leaveTime.Time
		p.LeaveTime = &t
	}

	return p, err
}

func (db *PgMeetingRepository) GetActiveParticipant(ctx context.Context, meetingId, accountId int) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants p JOIN accounts a ON a.id = p.account_id "+
			"WHERE p.meeting_id = $1 AND p.account_id = $2 AND p.leave_time IS NULL LIMIT 1",
		meetingId,
		accountId,
	)

	return scanParticipant(row)
}

func (db *PgMeetingRepository) GetParticipantById(ctx context.Context, meetingId, participantId int) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants p JOIN accounts a ON a.id = p.account_id "+
			"WHERE p.meeting_id = $1 AND p.id = $2 LIMIT 1",
		meetingId,
		participantId,
	)

	return scanParticipant(row)
}

func (db *PgMeetingRepository) ListActiveParticipants(ctx context.Context, meetingId int) ([]Participant, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants p JOIN accounts a ON a.id = p.account_id "+
			"WHERE p.meeting_id = $1 AND p.leave_time IS NULL ORDER BY p.join_time",
		meetingId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (db *PgMeetingRepository) CountActiveHosts(ctx context.Context, meetingId int) (int, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM participants WHERE meeting_id = $1 AND role = 'host' AND leave_time IS NULL",
		meetingId,
	)

	var count int
	err := row.Scan(&count)

	return count, err
}

// UpdateParticipantRole changes the target's role with the last-host guard
// evaluated inside the same statement: the update matches zero rows when it
// would demote the only remaining active host. A follow-up read classifies
// the zero-row case as ErrLastHost or sql.ErrNoRows; the invariant itself
// never depends on that read.
func (db *PgMeetingRepository) UpdateParticipantRole(ctx context.Context, meetingId, participantId int, role string) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH updated AS ("+
			"UPDATE participants SET role = $3 WHERE id = $2 AND meeting_id = $1 AND leave_time IS NULL "+
			"AND NOT (role = 'host' AND $3 <> 'host' AND "+
			"(SELECT COUNT(*) FROM participants WHERE meeting_id = $1 AND role = 'host' AND leave_time IS NULL) <= 1) "+
			"RETURNING id, meeting_id, account_id, role, is_muted, hand_raised, hand_raised_at, join_time, leave_time) "+
			"SELECT p.id, p.meeting_id, p.account_id, a.username, p.role, p.is_muted, p.hand_raised, p.hand_raised_at, p.join_time, p.leave_time "+
			"FROM updated p JOIN accounts a ON a.id = p.account_id",
		meetingId,
		participantId,
		role,
	)

	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		cur, lookupErr := db.GetParticipantById(ctx, meetingId, participantId)
		if lookupErr == nil && cur.LeaveTime == nil && cur.Role == "host" && role != "host" {
			return Participant{}, ErrLastHost
		}
		return Participant{}, sql.ErrNoRows
	}

	return p, err
}

func (db *PgMeetingRepository) UpdateParticipantMute(ctx context.Context, meetingId, participantId int, muted bool) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH updated AS ("+
			"UPDATE participants SET is_muted = $3 WHERE id = $2 AND meeting_id = $1 AND leave_time IS NULL "+
			"RETURNING id, meeting_id, account_id, role, is_muted, hand_raised, hand_raised_at, join_time, leave_time) "+
			"SELECT p.id, p.meeting_id, p.account_id, a.username, p.role, p.is_muted, p.hand_raised, p.hand_raised_at, p.join_time, p.leave_time "+
			"FROM updated p JOIN accounts a ON a.id = p.account_id",
		meetingId,
		participantId,
		muted,
	)

	return scanParticipant(row)
}

func (db *PgMeetingRepository) UpdateParticipantHandRaise(ctx context.Context, meetingId, participantId int, raised bool) (Participant, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH updated AS ("+
			"UPDATE participants SET hand_raised = $3, hand_raised_at = CASE WHEN $3 THEN $4 ELSE NULL END "+
			"WHERE id = $2 AND meeting_id = $1 AND leave_time IS NULL "+
			"RETURNING id, meeting_id, account_id, role, is_muted, hand_raised, hand_raised_at, join_time, leave_time) "+
			"SELECT p.id, p.meeting_id, p.account_id, a.username, p.role, p.is_muted, p.hand_raised, p.hand_raised_at, p.join_time, p.leave_time "+
			"FROM updated p JOIN accounts a ON a.id = p.account_id",
		meetingId,
		participantId,
		raised,
		time.Now().UTC(),
	)

	return scanParticipant(row)
}

// RemoveParticipant soft-deletes by stamping leave_time. The update refuses
// to remove the only remaining active host, with the host count evaluated
// inside the same statement. A follow-up read classifies the zero-row case
// as ErrLastHost or sql.ErrNoRows; the invariant itself never depends on
// that read.
func (db *PgMeetingRepository) RemoveParticipant(ctx context.Context, meetingId, participantId int) (time.Time, error) {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		"UPDATE participants SET leave_time = $3 WHERE id = $2 AND meeting_id = $1 AND leave_time IS NULL "+
			"AND NOT (role = 'host' AND "+
			"(SELECT COUNT(*) FROM participants WHERE meeting_id = $1 AND role = 'host' AND leave_time IS NULL) <= 1)",
		meetingId,
		participantId,
		now,
	)
	if err != nil {
		return time.Time{}, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, err
	}
	if rows == 0 {
		cur, lookupErr := db.GetParticipantById(ctx, meetingId, participantId)
		if lookupErr == nil && cur.LeaveTime == nil && cur.Role == "host" {
			return time.Time{}, ErrLastHost
		}
		return time.Time{}, sql.ErrNoRows
	}

	return now, nil
}

// CreateWaitingRoomEntry enqueues a join request unless the user is already
// an active participant or already has a waiting entry for the meeting.
// Zero rows surfaces as sql.ErrNoRows; callers distinguish the two causes.
func (db *PgMeetingRepository) CreateWaitingRoomEntry(ctx context.Context, params CreateWaitingRoomEntryParams) (WaitingRoomEntry, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO waiting_room_entries (id, meeting_id, account_id, display_name, status, enqueued_at, updated_at) "+
			"SELECT $1, $2, $3, $4, 'waiting', $5, $5 "+
			"WHERE NOT EXISTS (SELECT 1 FROM participants WHERE meeting_id = $2 AND account_id = $3 AND leave_time IS NULL) "+
			"AND NOT EXISTS (SELECT 1 FROM waiting_room_entries WHERE meeting_id = $2 AND account_id = $3 AND status = 'waiting') "+
			"RETURNING id, meeting_id, account_id, display_name, status, enqueued_at",
		params.Id,
		params.MeetingId,
		params.AccountId,
		params.DisplayName,
		time.Now().UTC(),
	)

	var e WaitingRoomEntry
	err := row.Scan(&e.Id, &e.MeetingId, &e.AccountId, &e.DisplayName, &e.Status, &e.EnqueuedAt)

	return e, err
}

func (db *PgMeetingRepository) GetWaitingEntry(ctx context.Context, meetingId, accountId int) (WaitingRoomEntry, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, meeting_id, account_id, display_name, status, enqueued_at FROM waiting_room_entries "+
			"WHERE meeting_id = $1 AND account_id = $2 AND status = 'waiting' LIMIT 1",
		meetingId,
		accountId,
	)

	var e WaitingRoomEntry
	err := row.Scan(&e.Id, &e.MeetingId, &e.AccountId, &e.DisplayName, &e.Status, &e.EnqueuedAt)

	return e, err
}

// ListWaitingEntries returns waiting entries whose user is not already an
// active participant. The filter defends against the admission race where a
// user entered through another path after being enqueued.
func (db *PgMeetingRepository) ListWaitingEntries(ctx context.Context, meetingId int) ([]WaitingRoomEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT w.id, w.meeting_id, w.account_id, w.display_name, w.status, w.enqueued_at "+
			"FROM waiting_room_entries w WHERE w.meeting_id = $1 AND w.status = 'waiting' "+
			"AND NOT EXISTS (SELECT 1 FROM participants p WHERE p.meeting_id = w.meeting_id AND p.account_id = w.account_id AND p.leave_time IS NULL) "+
			"ORDER BY w.enqueued_at",
		meetingId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]WaitingRoomEntry, 0)
	for rows.Next() {
		var e WaitingRoomEntry
		if err := rows.Scan(&e.Id, &e.MeetingId, &e.AccountId, &e.DisplayName, &e.Status, &e.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan waiting room entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// AdmitWaitingEntry marks the entry admitted and seats the user as a
// participant in one transaction. Admitting a user who already slipped in
// through the whitelist succeeds and returns the existing active
// participant. Without a waiting entry there is nothing to admit: an
// already-resolved entry is ErrEntryResolved and a missing one is
// sql.ErrNoRows; the participant insert is never reached in either case.
func (db *PgMeetingRepository) AdmitWaitingEntry(ctx context.Context, meetingId, accountId int) (Participant, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Participant{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"UPDATE waiting_room_entries SET status = 'admitted', updated_at = $3 "+
			"WHERE meeting_id = $1 AND account_id = $2 AND status = 'waiting'",
		meetingId,
		accountId,
		now,
	)
	if err != nil {
		return Participant{}, err
	}

	var updated int64
	updated, err = res.RowsAffected()
	if err != nil {
		return Participant{}, err
	}

	if updated == 0 {
		row := tx.QueryRowContext(ctx,
			"SELECT "+participantColumns+" FROM participants p JOIN accounts a ON a.id = p.account_id "+
				"WHERE p.meeting_id = $1 AND p.account_id = $2 AND p.leave_time IS NULL LIMIT 1",
			meetingId,
			accountId,
		)

		var p Participant
		p, err = scanParticipant(row)
		if err == nil {
			if err = tx.Commit(); err != nil {
				return Participant{}, err
			}
			return p, nil
		}
		if err != sql.ErrNoRows {
			return Participant{}, err
		}

		var status string
		err = tx.QueryRowContext(ctx,
			"SELECT status FROM waiting_room_entries WHERE meeting_id = $1 AND account_id = $2 "+
				"ORDER BY updated_at DESC LIMIT 1",
			meetingId,
			accountId,
		).Scan(&status)
		if err == nil {
			err = ErrEntryResolved
		}
		return Participant{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO participants (meeting_id, account_id, role, join_time) "+
			"SELECT $1, $2, 'participant', $3 "+
			"WHERE NOT EXISTS (SELECT 1 FROM participants WHERE meeting_id = $1 AND account_id = $2 AND leave_time IS NULL)",
		meetingId,
		accountId,
		now,
	)
	if err != nil {
		return Participant{}, err
	}

	row := tx.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants p JOIN accounts a ON a.id = p.account_id "+
			"WHERE p.meeting_id = $1 AND p.account_id = $2 AND p.leave_time IS NULL LIMIT 1",
		meetingId,
		accountId,
	)

	var p Participant
	p, err = scanParticipant(row)
	if err != nil {
		return Participant{}, err
	}

	if err = tx.Commit(); err != nil {
		return Participant{}, err
	}

	return p, nil
}

// RejectWaitingEntry is valid only against an entry still in waiting state.
// An already-resolved entry is ErrEntryResolved and a missing one is
// sql.ErrNoRows, so callers can tell the client race apart from a bad target.
func (db *PgMeetingRepository) RejectWaitingEntry(ctx context.Context, meetingId, accountId int) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE waiting_room_entries SET status = 'rejected', updated_at = $3 "+
			"WHERE meeting_id = $1 AND account_id = $2 AND status = 'waiting'",
		meetingId,
		accountId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var status string
		err := db.conn.QueryRowContext(ctx,
			"SELECT status FROM waiting_room_entries WHERE meeting_id = $1 AND account_id = $2 "+
				"ORDER BY updated_at DESC LIMIT 1",
			meetingId,
			accountId,
		).Scan(&status)
		if err == nil {
			return ErrEntryResolved
		}
		return err
	}

	return nil
}

func (db *PgMeetingRepository) CreateAuditLogEntry(ctx context.Context, entry AuditLogEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	var target sql.NullInt64
	if entry.TargetAccountId != nil {
		target = sql.NullInt64{Int64: int64(*entry.TargetAccountId), Valid: true}
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO audit_log (id, meeting_id, actor_account_id, action, target_account_id, metadata, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		entry.Id,
		entry.MeetingId,
		entry.ActorAccountId,
		entry.Action,
		target,
		metadata,
		entry.CreatedAt,
	)

	return err
}
