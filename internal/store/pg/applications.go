package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"invitegate.dev/internal/application"
)

// ApplicationStore implements application.Store.
type ApplicationStore struct {
	db *sql.DB
}

var _ application.Store = (*ApplicationStore)(nil)

const applicationColumns = `id, invite_id, applicant_name, sectors, filter_snapshot, personal_info, documents, status, created_at, updated_at`

func (s *ApplicationStore) Create(ctx context.Context, app *application.Application) error {
	sectors, err := marshalStrings(app.Sectors)
	if err != nil {
		return err
	}
	filters, err := marshalStrings(app.FilterSnapshot)
	if err != nil {
		return err
	}
	info := []byte("{}")
	if len(app.PersonalInfo) > 0 {
		if info, err = json.Marshal(app.PersonalInfo); err != nil {
			return fmt.Errorf("marshal personal info: %w", err)
		}
	}
	docs := []byte("[]")
	if len(app.Documents) > 0 {
		if docs, err = json.Marshal(app.Documents); err != nil {
			return fmt.Errorf("marshal documents: %w", err)
		}
	}

	row := s.db.QueryRowContext(ctx, `
		insert into applications (id, invite_id, applicant_name, sectors, filter_snapshot, personal_info, documents, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, app.ID, app.InviteID, app.ApplicantName, sectors, filters, info, docs, app.Status)
	return row.Scan(&app.CreatedAt, &app.UpdatedAt)
}

func (s *ApplicationStore) FindByID(ctx context.Context, id string) (*application.Application, error) {
	row := s.db.QueryRowContext(ctx, `select `+applicationColumns+` from applications where id = $1`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, application.ErrNotFound
	}
	return app, err
}

func (s *ApplicationStore) List(ctx context.Context) ([]*application.Application, error) {
	rows, err := s.db.QueryContext(ctx, `select `+applicationColumns+` from applications order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*application.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*application.Application, error) {
	var (
		app     application.Application
		sectors []byte
		filters []byte
		info    []byte
		docs    []byte
	)
	err := row.Scan(&app.ID, &app.InviteID, &app.ApplicantName, &sectors, &filters,
		&info, &docs, &app.Status, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if app.Sectors, err = unmarshalStrings(sectors); err != nil {
		return nil, err
	}
	if app.FilterSnapshot, err = unmarshalStrings(filters); err != nil {
		return nil, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &app.PersonalInfo); err != nil {
			return nil, fmt.Errorf("decode personal info: %w", err)
		}
	}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &app.Documents); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
	}
	return &app, nil
}
