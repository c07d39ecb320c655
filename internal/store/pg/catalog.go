package pg

import (
	"context"
	"database/sql"
	"errors"

	"grantd.org/internal/access"
)

func (s *Store) GetUser(ctx context.Context, id string) (access.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, name, email, role, coalesce(manager_id,'')
		from users where id=$1
	`, id))
}

func scanUser(row rowScanner) (access.User, error) {
	var u access.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ManagerID)
	if errors.Is(err, sql.ErrNoRows) {
		return access.User{}, access.ErrNotFound
	}
	if err != nil {
		return access.User{}, err
	}
	return u, nil
}

func (s *Store) GetSystem(ctx context.Context, id string) (access.System, error) {
	var sys access.System
	err := s.db.QueryRowContext(ctx, `select id, name from systems where id=$1`, id).
		Scan(&sys.ID, &sys.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return access.System{}, access.ErrNotFound
	}
	if err != nil {
		return access.System{}, err
	}
	return sys, nil
}

func (s *Store) GetSystemInstance(ctx context.Context, id string) (access.SystemInstance, error) {
	var inst access.SystemInstance
	err := s.db.QueryRowContext(ctx, `
		select id, system_id, name from system_instances where id=$1
	`, id).Scan(&inst.ID, &inst.SystemID, &inst.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return access.SystemInstance{}, access.ErrNotFound
	}
	if err != nil {
		return access.SystemInstance{}, err
	}
	return inst, nil
}

func (s *Store) GetAccessTier(ctx context.Context, id string) (access.AccessTier, error) {
	var tier access.AccessTier
	err := s.db.QueryRowContext(ctx, `
		select id, system_id, name, self_approvable from access_tiers where id=$1
	`, id).Scan(&tier.ID, &tier.SystemID, &tier.Name, &tier.SelfApprovable)
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessTier{}, access.ErrNotFound
	}
	if err != nil {
		return access.AccessTier{}, err
	}
	return tier, nil
}

func (s *Store) ManagerOf(ctx context.Context, userID string) (access.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select m.id, m.name, m.email, m.role, coalesce(m.manager_id,'')
		from users u
		join users m on m.id = u.manager_id
		where u.id=$1
	`, userID))
}

func (s *Store) DirectReports(ctx context.Context, managerID string) ([]access.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, email, role, coalesce(manager_id,'')
		from users where manager_id=$1
		order by id asc
	`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.User
	for rows.Next() {
		var u access.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ManagerID); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
