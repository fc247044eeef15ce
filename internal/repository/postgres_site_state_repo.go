package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/ptwatch/internal/model"
)

// PostgresSiteStateRepo はPostgreSQLを使用したサイト状態リポジトリ。
type PostgresSiteStateRepo struct {
	db *sql.DB
}

// NewPostgresSiteStateRepo はPostgresSiteStateRepoを生成する。
func NewPostgresSiteStateRepo(db *sql.DB) *PostgresSiteStateRepo {
	return &PostgresSiteStateRepo{db: db}
}

// Upsert はサイト状態を挿入または更新する。
// last_changed_atはCOALESCEにより、新しい値がNULLの場合は既存値を保持する。
// 状態遷移がなかったスキャンでも最終変化時刻を失わないための措置。
func (r *PostgresSiteStateRepo) Upsert(ctx context.Context, state *model.SiteState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO site_state (
			domain, name, url, engine, registration_state, invites_state,
			invites_available, invites_permanent, invites_temporary,
			last_checked_at, last_changed_at, last_evidence, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		 ON CONFLICT (domain) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			engine = excluded.engine,
			registration_state = excluded.registration_state,
			invites_state = excluded.invites_state,
			invites_available = excluded.invites_available,
			invites_permanent = excluded.invites_permanent,
			invites_temporary = excluded.invites_temporary,
			last_checked_at = excluded.last_checked_at,
			last_changed_at = COALESCE(excluded.last_changed_at, site_state.last_changed_at),
			last_evidence = excluded.last_evidence,
			updated_at = now()`,
		state.Domain, state.Name, state.URL, string(state.Engine),
		string(state.RegistrationState), string(state.InvitesState),
		nullInt(state.InvitesAvailable), nullInt(state.InvitesPermanent), nullInt(state.InvitesTemporary),
		nullTimeValue(state.LastCheckedAt), nullTimePtr(state.LastChangedAt), state.LastEvidence,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert site state: %w", err)
	}
	return nil
}

// FindByDomain は指定ドメインのサイト状態を取得する。見つからない場合はnilを返す。
func (r *PostgresSiteStateRepo) FindByDomain(ctx context.Context, domain string) (*model.SiteState, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT domain, name, url, engine, registration_state, invites_state,
			invites_available, invites_permanent, invites_temporary,
			last_checked_at, last_changed_at, last_evidence
		 FROM site_state WHERE domain = $1`,
		domain,
	)

	state, err := scanSiteState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find site state: %w", err)
	}
	return state, nil
}

// List は全サイト状態をドメイン昇順で返す。
func (r *PostgresSiteStateRepo) List(ctx context.Context) ([]*model.SiteState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, name, url, engine, registration_state, invites_state,
			invites_available, invites_permanent, invites_temporary,
			last_checked_at, last_changed_at, last_evidence
		 FROM site_state ORDER BY domain`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list site states: %w", err)
	}
	defer rows.Close()

	var states []*model.SiteState
	for rows.Next() {
		state, err := scanSiteState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site state row: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate site state rows: %w", err)
	}
	return states, nil
}

// DeleteByDomain は指定ドメインのサイト状態を削除する。
func (r *PostgresSiteStateRepo) DeleteByDomain(ctx context.Context, domain string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM site_state WHERE domain = $1`,
		domain,
	)
	if err != nil {
		return fmt.Errorf("failed to delete site state: %w", err)
	}
	return nil
}

// rowScanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSiteState(row rowScanner) (*model.SiteState, error) {
	state := &model.SiteState{}
	var engine, registrationState, invitesState string
	var invitesAvailable, invitesPermanent, invitesTemporary sql.NullInt64
	var lastCheckedAt, lastChangedAt sql.NullTime

	err := row.Scan(
		&state.Domain, &state.Name, &state.URL, &engine, &registrationState, &invitesState,
		&invitesAvailable, &invitesPermanent, &invitesTemporary,
		&lastCheckedAt, &lastChangedAt, &state.LastEvidence,
	)
	if err != nil {
		return nil, err
	}

	state.Engine = model.Engine(engine)
	state.RegistrationState = model.State(registrationState)
	state.InvitesState = model.State(invitesState)
	state.InvitesAvailable = intPtrFromNull(invitesAvailable)
	state.InvitesPermanent = intPtrFromNull(invitesPermanent)
	state.InvitesTemporary = intPtrFromNull(invitesTemporary)
	if lastCheckedAt.Valid {
		state.LastCheckedAt = lastCheckedAt.Time
	}
	if lastChangedAt.Valid {
		t := lastChangedAt.Time
		state.LastChangedAt = &t
	}
	return state, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtrFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullTimeValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ SiteStateRepository = (*PostgresSiteStateRepo)(nil)
