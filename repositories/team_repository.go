package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/teamhub/teamhub/models"
)

var (
	ErrTeamNotFound = errors.New("team not found")

	// ErrTeamVersionConflict — условный UPDATE документа команды не нашёл
	// строку с ожидаемой версией: кто-то успел изменить members раньше.
	ErrTeamVersionConflict = errors.New("team document version conflict")

	ErrTeamOwnerInvalid = errors.New("team owner reference invalid")
)

// TeamFilter задаёт выборку списка команд.
type TeamFilter struct {
	OwnerID  *int
	MemberID *int
	IsActive *bool
	Limit    int
	Offset   int
}

type TeamRepository interface {
	Create(ctx context.Context, team *models.Team) error
	GetByID(ctx context.Context, id int) (*models.Team, error)
	List(ctx context.Context, filter TeamFilter) ([]*models.Team, int, error)

	// UpdateDetails перезаписывает метаданные (name, description, settings,
	// board) и поднимает версию документа.
	UpdateDetails(ctx context.Context, team *models.Team) error

	// UpdateMembers атомарно заменяет members при совпадении версии документа.
	// Возвращает ErrTeamVersionConflict, если версия уже ушла вперёд.
	UpdateMembers(ctx context.Context, teamID int, members []models.TeamMember, expectedVersion int) error

	UpdateAvatarKey(ctx context.Context, teamID int, key *string) error
	SetActive(ctx context.Context, teamID int, active bool) error
	Delete(ctx context.Context, teamID int) error
}

type postgresTeamRepository struct {
	db *sql.DB
}

func NewPostgresTeamRepository(db *sql.DB) TeamRepository {
	return &postgresTeamRepository{db: db}
}

const teamColumns = `id, name, description, owner_id, members, settings, board, is_active, version, avatar_key, created_at, updated_at`

func (r *postgresTeamRepository) Create(ctx context.Context, team *models.Team) error {
	membersJSON, err := jsonbValue(team.Members)
	if err != nil {
		return err
	}
	settingsJSON, err := jsonbValue(team.Settings)
	if err != nil {
		return err
	}
	boardJSON, err := jsonbValue(team.Board)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO teams (name, description, owner_id, members, settings, board, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id, version, created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		team.Name,
		team.Description,
		team.OwnerID,
		membersJSON,
		settingsJSON,
		boardJSON,
	).Scan(&team.ID, &team.Version, &team.CreatedAt, &team.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrTeamOwnerInvalid
		}
		return err
	}
	team.IsActive = true

	return nil
}

func (r *postgresTeamRepository) GetByID(ctx context.Context, id int) (*models.Team, error) {
	query := fmt.Sprintf(`SELECT %s FROM teams WHERE id = $1`, teamColumns)
	return scanTeam(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresTeamRepository) List(ctx context.Context, filter TeamFilter) ([]*models.Team, int, error) {
	where := `WHERE 1=1`
	args := make([]interface{}, 0, 4)

	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		where += fmt.Sprintf(` AND is_active = $%d`, len(args))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		where += fmt.Sprintf(` AND owner_id = $%d`, len(args))
	}
	if filter.MemberID != nil {
		// Участник ищется внутри JSONB-документа members.
		args = append(args, fmt.Sprintf(`[{"user_id": %d, "status": "active"}]`, *filter.MemberID))
		where += fmt.Sprintf(` AND members @> $%d::jsonb`, len(args))
	}

	var total int
	countQuery := `SELECT count(*) FROM teams ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM teams %s ORDER BY created_at DESC`, teamColumns, where)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	teams := make([]*models.Team, 0)
	for rows.Next() {
		team, scanErr := scanTeamRows(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		teams = append(teams, team)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return teams, total, nil
}

func (r *postgresTeamRepository) UpdateDetails(ctx context.Context, team *models.Team) error {
	settingsJSON, err := jsonbValue(team.Settings)
	if err != nil {
		return err
	}
	boardJSON, err := jsonbValue(team.Board)
	if err != nil {
		return err
	}

	query := `
		UPDATE teams
		SET name = $2, description = $3, settings = $4, board = $5,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		team.ID,
		team.Name,
		team.Description,
		settingsJSON,
		boardJSON,
	).Scan(&team.Version, &team.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTeamNotFound
		}
		return err
	}
	return nil
}

func (r *postgresTeamRepository) UpdateMembers(ctx context.Context, teamID int, members []models.TeamMember, expectedVersion int) error {
	membersJSON, err := jsonbValue(members)
	if err != nil {
		return err
	}

	query := `
		UPDATE teams
		SET members = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3`

	result, err := r.db.ExecContext(ctx, query, teamID, membersJSON, expectedVersion)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Либо команды нет, либо версия ушла. Различаем отдельным чтением.
		var exists bool
		if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE id = $1)`, teamID).Scan(&exists); checkErr != nil {
			return checkErr
		}
		if !exists {
			return ErrTeamNotFound
		}
		return ErrTeamVersionConflict
	}
	return nil
}

func (r *postgresTeamRepository) UpdateAvatarKey(ctx context.Context, teamID int, key *string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE teams SET avatar_key = $2, updated_at = NOW() WHERE id = $1`, teamID, key)
	if err != nil {
		return err
	}
	return requireRow(result, ErrTeamNotFound)
}

func (r *postgresTeamRepository) SetActive(ctx context.Context, teamID int, active bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE teams SET is_active = $2, updated_at = NOW() WHERE id = $1`, teamID, active)
	if err != nil {
		return err
	}
	return requireRow(result, ErrTeamNotFound)
}

func (r *postgresTeamRepository) Delete(ctx context.Context, teamID int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return err
	}
	return requireRow(result, ErrTeamNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTeam(row *sql.Row) (*models.Team, error) {
	team, err := scanTeamFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	return team, nil
}

func scanTeamRows(rows *sql.Rows) (*models.Team, error) {
	return scanTeamFrom(rows)
}

func scanTeamFrom(s rowScanner) (*models.Team, error) {
	team := &models.Team{}
	var membersRaw, settingsRaw, boardRaw []byte

	err := s.Scan(
		&team.ID,
		&team.Name,
		&team.Description,
		&team.OwnerID,
		&membersRaw,
		&settingsRaw,
		&boardRaw,
		&team.IsActive,
		&team.Version,
		&team.AvatarKey,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := scanJSONB(membersRaw, &team.Members); err != nil {
		return nil, err
	}
	if err := scanJSONB(settingsRaw, &team.Settings); err != nil {
		return nil, err
	}
	if err := scanJSONB(boardRaw, &team.Board); err != nil {
		return nil, err
	}

	return team, nil
}
