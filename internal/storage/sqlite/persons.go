package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
)

const personColumns = `id, name, code, department, email, active`

func scanPerson(row scanner) (attendance.Person, error) {
	var p attendance.Person
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Department, &p.Email, &p.Active)
	return p, err
}

// Person implements attendance.Store
func (s *Store) Person(ctx context.Context, id string) (attendance.Person, error) {
	p, err := scanPerson(s.db.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Person{}, fmt.Errorf("%w: person %s", attendance.ErrNotFound, id)
	}
	if err != nil {
		return attendance.Person{}, fmt.Errorf("failed to get person: %w", err)
	}
	return p, nil
}

// ActivePersons implements attendance.Store
func (s *Store) ActivePersons(ctx context.Context) ([]attendance.Person, error) {
	return s.queryPersons(ctx, `SELECT `+personColumns+` FROM persons WHERE active = 1 ORDER BY id`)
}

// Persons implements attendance.Store
func (s *Store) Persons(ctx context.Context) ([]attendance.Person, error) {
	return s.queryPersons(ctx, `SELECT `+personColumns+` FROM persons ORDER BY id`)
}

func (s *Store) queryPersons(ctx context.Context, query string) ([]attendance.Person, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query persons: %w", err)
	}
	defer rows.Close()

	out := []attendance.Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPerson implements attendance.Store
func (s *Store) UpsertPerson(ctx context.Context, p attendance.Person) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO persons (id, name, code, department, email, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			department = excluded.department,
			email = excluded.email,
			active = excluded.active`,
		p.ID, p.Name, p.Code, p.Department, p.Email, p.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert person: %w", err)
	}
	return nil
}
