package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"grantd.org/internal/access"
)

func (s *Store) CreateRequest(ctx context.Context, req access.AccessRequest, audits []access.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into access_requests(id, requester_id, target_user_id, status, note, created_at)
		values ($1,$2,$3,$4,nullif($5,''),$6)
	`, req.ID, req.RequesterID, req.TargetUserID, string(req.Status), req.Note, req.CreatedAt); err != nil {
		return mapPgError(err)
	}
	for pos, it := range req.Items {
		if _, err := tx.ExecContext(ctx, `
			insert into access_request_items(id, request_id, position, system_instance_id, access_tier_id, status, decided_by, decided_at)
			values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8)
		`, it.ID, req.ID, pos, it.SystemInstanceID, it.AccessTierID, string(it.Status), it.DecidedBy, it.DecidedAt); err != nil {
			return mapPgError(err)
		}
	}
	if err := insertAudits(ctx, tx, audits); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RequestByID(ctx context.Context, id string) (access.AccessRequest, error) {
	return requestByID(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func requestByID(ctx context.Context, q querier, id string) (access.AccessRequest, error) {
	var req access.AccessRequest
	var note sql.NullString
	err := q.QueryRowContext(ctx, `
		select id, requester_id, target_user_id, status, note, created_at
		from access_requests where id=$1
	`, id).Scan(&req.ID, &req.RequesterID, &req.TargetUserID, &req.Status, &note, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessRequest{}, access.ErrNotFound
	}
	if err != nil {
		return access.AccessRequest{}, err
	}
	req.Note = note.String

	rows, err := q.QueryContext(ctx, `
		select id, request_id, system_instance_id, access_tier_id, status,
		       coalesce(rejection_reason,''), coalesce(decided_by,''), decided_at
		from access_request_items
		where request_id=$1
		order by position asc
	`, id)
	if err != nil {
		return access.AccessRequest{}, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return access.AccessRequest{}, err
		}
		req.Items = append(req.Items, item)
	}
	return req, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (access.AccessRequestItem, error) {
	var item access.AccessRequestItem
	var decidedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.RequestID, &item.SystemInstanceID, &item.AccessTierID,
		&item.Status, &item.RejectionReason, &item.DecidedBy, &decidedAt); err != nil {
		return access.AccessRequestItem{}, err
	}
	if decidedAt.Valid {
		at := decidedAt.Time
		item.DecidedAt = &at
	}
	return item, nil
}

func (s *Store) ItemByID(ctx context.Context, id string) (access.AccessRequestItem, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, request_id, system_instance_id, access_tier_id, status,
		       coalesce(rejection_reason,''), coalesce(decided_by,''), decided_at
		from access_request_items where id=$1
	`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessRequestItem{}, access.ErrNotFound
	}
	if err != nil {
		return access.AccessRequestItem{}, err
	}
	return item, nil
}

func (s *Store) PendingForTargets(ctx context.Context, targetUserIDs []string) ([]access.AccessRequest, error) {
	if len(targetUserIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(targetUserIDs))
	args := make([]any, len(targetUserIDs))
	for i, id := range targetUserIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select r.id
		from access_requests r
		where r.target_user_id in (%s)
		  and exists (
		    select 1 from access_request_items i
		    where i.request_id = r.id and i.status = 'requested'
		  )
		order by r.id asc
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []access.AccessRequest
	for _, id := range ids {
		req, err := s.RequestByID(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, nil
}

func (s *Store) DecideItem(ctx context.Context, itemID string, from, to access.ItemStatus, dec access.ItemDecision, audits []access.AuditEntry) (access.AccessRequestItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.AccessRequestItem{}, err
	}
	defer func() { _ = tx.Rollback() }()

	item, err := decideItemTx(ctx, tx, itemID, from, to, dec)
	if err != nil {
		return access.AccessRequestItem{}, err
	}
	if err := recomputeRequestStatus(ctx, tx, item.RequestID); err != nil {
		return access.AccessRequestItem{}, err
	}
	if err := insertAudits(ctx, tx, audits); err != nil {
		return access.AccessRequestItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.AccessRequestItem{}, err
	}
	return item, nil
}

func decideItemTx(ctx context.Context, tx *sql.Tx, itemID string, from, to access.ItemStatus, dec access.ItemDecision) (access.AccessRequestItem, error) {
	row := tx.QueryRowContext(ctx, `
		update access_request_items
		set status=$1, decided_by=$2, decided_at=$3, rejection_reason=nullif($4,'')
		where id=$5 and status=$6
		returning id, request_id, system_instance_id, access_tier_id, status,
		          coalesce(rejection_reason,''), coalesce(decided_by,''), decided_at
	`, string(to), dec.DecidedBy, dec.DecidedAt, dec.RejectionReason, itemID, string(from))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing item from a lost status race.
		var status string
		probe := tx.QueryRowContext(ctx, `select status from access_request_items where id=$1`, itemID).Scan(&status)
		if errors.Is(probe, sql.ErrNoRows) {
			return access.AccessRequestItem{}, access.ErrNotFound
		}
		if probe != nil {
			return access.AccessRequestItem{}, probe
		}
		return access.AccessRequestItem{}, access.ErrConflict
	}
	if err != nil {
		return access.AccessRequestItem{}, err
	}
	return item, nil
}

// recomputeRequestStatus derives the aggregate from the item rows inside
// the same transaction that changed them.
func recomputeRequestStatus(ctx context.Context, tx *sql.Tx, requestID string) error {
	rows, err := tx.QueryContext(ctx, `
		select status from access_request_items where request_id=$1
	`, requestID)
	if err != nil {
		return err
	}
	defer rows.Close()
	var items []access.AccessRequestItem
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		items = append(items, access.AccessRequestItem{Status: access.ItemStatus(status)})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `update access_requests set status=$1 where id=$2`,
		string(access.AggregateStatus(items)), requestID)
	return err
}

func (s *Store) ProvisionItem(ctx context.Context, itemID string, from access.ItemStatus, dec access.ItemDecision, grant access.AccessGrant, audits []access.AuditEntry, grantAudit func(access.AuditAction, access.AccessGrant) access.AuditEntry) (access.AccessRequestItem, access.AccessGrant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.AccessRequestItem{}, access.AccessGrant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	item, err := decideItemTx(ctx, tx, itemID, from, access.ItemProvisioned, dec)
	if err != nil {
		return access.AccessRequestItem{}, access.AccessGrant{}, err
	}
	if err := recomputeRequestStatus(ctx, tx, item.RequestID); err != nil {
		return access.AccessRequestItem{}, access.AccessGrant{}, err
	}
	if err := insertAudits(ctx, tx, audits); err != nil {
		return access.AccessRequestItem{}, access.AccessGrant{}, err
	}

	out, created, action, err := upsertGrantTx(ctx, tx, grant)
	if err != nil {
		return access.AccessRequestItem{}, access.AccessGrant{}, err
	}
	if created && grantAudit != nil {
		if err := insertAudits(ctx, tx, []access.AuditEntry{grantAudit(action, out)}); err != nil {
			return access.AccessRequestItem{}, access.AccessGrant{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return access.AccessRequestItem{}, access.AccessGrant{}, err
	}
	return item, out, nil
}

func (s *Store) CreateOrActivateGrant(ctx context.Context, grant access.AccessGrant, grantAudit func(access.AuditAction, access.AccessGrant) access.AuditEntry) (access.AccessGrant, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.AccessGrant{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	out, created, action, err := upsertGrantTx(ctx, tx, grant)
	if err != nil {
		return access.AccessGrant{}, false, err
	}
	if created && grantAudit != nil {
		if err := insertAudits(ctx, tx, []access.AuditEntry{grantAudit(action, out)}); err != nil {
			return access.AccessGrant{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return access.AccessGrant{}, false, err
	}
	return out, created, nil
}

// upsertGrantTx inserts the grant unless a non-removed grant for the same
// triple exists. The existing row is locked so a concurrent insert for
// the triple serialises here; the partial unique index backs this up.
func upsertGrantTx(ctx context.Context, tx *sql.Tx, grant access.AccessGrant) (access.AccessGrant, bool, access.AuditAction, error) {
	existing, err := scanGrant(tx.QueryRowContext(ctx, `
		select id, user_id, system_instance_id, access_tier_id, status, granted_at, removed_at
		from access_grants
		where user_id=$1 and system_instance_id=$2 and access_tier_id=$3 and status <> 'removed'
		for update
	`, grant.UserID, grant.SystemInstanceID, grant.AccessTierID))
	if err == nil {
		return existing, false, "", nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return access.AccessGrant{}, false, "", err
	}

	var superseded bool
	if err := tx.QueryRowContext(ctx, `
		select exists(
			select 1 from access_grants
			where user_id=$1 and system_instance_id=$2 and access_tier_id=$3 and status='removed'
		)
	`, grant.UserID, grant.SystemInstanceID, grant.AccessTierID).Scan(&superseded); err != nil {
		return access.AccessGrant{}, false, "", err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into access_grants(id, user_id, system_instance_id, access_tier_id, status, granted_at)
		values ($1,$2,$3,$4,$5,$6)
	`, grant.ID, grant.UserID, grant.SystemInstanceID, grant.AccessTierID, string(grant.Status), grant.GrantedAt); err != nil {
		return access.AccessGrant{}, false, "", mapPgError(err)
	}
	action := access.ActionGrantCreated
	if superseded {
		action = access.ActionGrantActivated
	}
	return grant, true, action, nil
}

func (s *Store) UpdateGrantStatus(ctx context.Context, grantID string, from []access.GrantStatus, to access.GrantStatus, removedAt *time.Time, audit access.AuditEntry) (access.AccessGrant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.AccessGrant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(from))
	args := []any{string(to), removedAt, grantID}
	for i, st := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, string(st))
	}
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		update access_grants
		set status=$1, removed_at=coalesce($2, removed_at)
		where id=$3 and status in (%s)
		returning id, user_id, system_instance_id, access_tier_id, status, granted_at, removed_at
	`, strings.Join(placeholders, ",")), args...)
	grant, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		var status string
		probe := tx.QueryRowContext(ctx, `select status from access_grants where id=$1`, grantID).Scan(&status)
		if errors.Is(probe, sql.ErrNoRows) {
			return access.AccessGrant{}, access.ErrNotFound
		}
		if probe != nil {
			return access.AccessGrant{}, probe
		}
		return access.AccessGrant{}, access.ErrConflict
	}
	if err != nil {
		return access.AccessGrant{}, err
	}
	if err := insertAudits(ctx, tx, []access.AuditEntry{audit}); err != nil {
		return access.AccessGrant{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.AccessGrant{}, err
	}
	return grant, nil
}

func scanGrant(row rowScanner) (access.AccessGrant, error) {
	var grant access.AccessGrant
	var removedAt sql.NullTime
	if err := row.Scan(&grant.ID, &grant.UserID, &grant.SystemInstanceID, &grant.AccessTierID,
		&grant.Status, &grant.GrantedAt, &removedAt); err != nil {
		return access.AccessGrant{}, err
	}
	if removedAt.Valid {
		at := removedAt.Time
		grant.RemovedAt = &at
	}
	return grant, nil
}

func (s *Store) GrantByID(ctx context.Context, id string) (access.AccessGrant, error) {
	grant, err := scanGrant(s.db.QueryRowContext(ctx, `
		select id, user_id, system_instance_id, access_tier_id, status, granted_at, removed_at
		from access_grants where id=$1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessGrant{}, access.ErrNotFound
	}
	if err != nil {
		return access.AccessGrant{}, err
	}
	return grant, nil
}

func (s *Store) GrantsByUser(ctx context.Context, userID string, status access.GrantStatus) ([]access.AccessGrant, error) {
	query := `
		select id, user_id, system_instance_id, access_tier_id, status, granted_at, removed_at
		from access_grants where user_id=$1
	`
	args := []any{userID}
	if status != "" {
		query += ` and status=$2`
		args = append(args, string(status))
	}
	query += ` order by id desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []access.AccessGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, grant)
	}
	return result, rows.Err()
}

func (s *Store) AuditEntries(ctx context.Context, limit int, afterID string) ([]access.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, action, actor_id, coalesce(target_user_id,''), resource_type, resource_id,
		       details, coalesce(reason,''), created_at
		from audit_log
		where id > $1
		order by id asc
		limit $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.AuditEntry
	for rows.Next() {
		var entry access.AuditEntry
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.ActorID, &entry.TargetUserID,
			&entry.ResourceType, &entry.ResourceID, &details, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func insertAudits(ctx context.Context, tx *sql.Tx, entries []access.AuditEntry) error {
	for _, e := range entries {
		var details any
		if len(e.Details) > 0 {
			data, err := json.Marshal(e.Details)
			if err != nil {
				return err
			}
			details = data
		}
		if _, err := tx.ExecContext(ctx, `
			insert into audit_log(id, action, actor_id, target_user_id, resource_type, resource_id, details, reason, created_at)
			values ($1,$2,$3,nullif($4,''),$5,$6,$7,nullif($8,''),$9)
		`, e.ID, string(e.Action), e.ActorID, e.TargetUserID, e.ResourceType, e.ResourceID, details, e.Reason, e.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// mapPgError translates constraint violations into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", access.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", access.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
