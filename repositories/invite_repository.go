package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/teamhub/teamhub/models"
)

var (
	ErrInviteNotFound      = errors.New("invite not found")
	ErrInviteTokenConflict = errors.New("invite token conflict")
	ErrInviteTeamInvalid   = errors.New("invite team conflict or invalid")

	// ErrInvitePendingConflict — нарушен частичный уникальный индекс
	// (team_id, email) WHERE status='pending': действующее приглашение на
	// этот адрес уже есть. Не путать с коллизией токена — перегенерация
	// токена здесь не поможет.
	ErrInvitePendingConflict = errors.New("pending invite already exists for this team and email")

	// ErrInviteStateConflict — условный переход не сработал: приглашение уже
	// не pending (или истекло к моменту UPDATE). Так проигрывает вторая
	// сторона гонки на accept.
	ErrInviteStateConflict = errors.New("invite is not pending anymore")
)

type InviteRepository interface {
	// Create создает приглашение. Token и ExpiresAt должны быть выставлены
	// сервисным слоем до вызова.
	Create(ctx context.Context, invite *models.TeamInvite) error

	GetByToken(ctx context.Context, token string) (*models.TeamInvite, error)

	// FindPending ищет действующее pending-приглашение для пары (team, email).
	FindPending(ctx context.Context, teamID int, inviteeEmail string) (*models.TeamInvite, error)

	// ListPendingByEmail возвращает действующие приглашения на адрес.
	ListPendingByEmail(ctx context.Context, email string) ([]*models.TeamInvite, error)

	// UpdateStatusIfPending переводит приглашение в терминальный статус
	// только если оно всё ещё pending и не истекло. Ровно один вызов
	// выигрывает; остальным возвращается ErrInviteStateConflict.
	UpdateStatusIfPending(ctx context.Context, id int, status models.InviteStatus, at time.Time) error

	// RevertToPending возвращает accepted-приглашение обратно в pending.
	// Компенсация для случая, когда переход статуса прошёл, а запись
	// членства — нет.
	RevertToPending(ctx context.Context, id int) error

	// ExpirePending помечает просроченные pending-приглашения как expired.
	// Возвращает количество изменённых строк.
	ExpirePending(ctx context.Context) (int64, error)

	DeleteByTeam(ctx context.Context, teamID int) error
}

type postgresInviteRepository struct {
	db *sql.DB
}

func NewPostgresInviteRepository(db *sql.DB) InviteRepository {
	return &postgresInviteRepository{db: db}
}

const inviteColumns = `id, team_id, inviter_id, invitee_email, invitee_user_id, role, status, token, message, expires_at, accepted_at, rejected_at, created_at`

func (r *postgresInviteRepository) Create(ctx context.Context, invite *models.TeamInvite) error {
	query := `
		INSERT INTO team_invites (team_id, inviter_id, invitee_email, invitee_user_id, role, status, token, message, expires_at)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		invite.TeamID,
		invite.InviterID,
		invite.InviteeEmail,
		invite.InviteeUserID,
		invite.Role,
		invite.Status,
		invite.Token,
		invite.Message,
		invite.ExpiresAt,
	).Scan(&invite.ID, &invite.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505":
				// Два уникальных индекса: токен и pending-пара (team, email).
				if pqErr.Constraint == "team_invites_pending_idx" {
					return ErrInvitePendingConflict
				}
				return ErrInviteTokenConflict
			case "23503":
				return ErrInviteTeamInvalid
			}
		}
		return err
	}

	return nil
}

func (r *postgresInviteRepository) GetByToken(ctx context.Context, token string) (*models.TeamInvite, error) {
	query := `SELECT ` + inviteColumns + ` FROM team_invites WHERE token = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, token))
}

func (r *postgresInviteRepository) FindPending(ctx context.Context, teamID int, inviteeEmail string) (*models.TeamInvite, error) {
	query := `
		SELECT ` + inviteColumns + `
		FROM team_invites
		WHERE team_id = $1
		  AND invitee_email = lower($2)
		  AND status = 'pending'
		  AND expires_at > NOW()`

	return r.scanOne(r.db.QueryRowContext(ctx, query, teamID, inviteeEmail))
}

func (r *postgresInviteRepository) ListPendingByEmail(ctx context.Context, email string) ([]*models.TeamInvite, error) {
	query := `
		SELECT ` + inviteColumns + `
		FROM team_invites
		WHERE invitee_email = lower($1)
		  AND status = 'pending'
		  AND expires_at > NOW()
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invites := make([]*models.TeamInvite, 0)
	for rows.Next() {
		invite := &models.TeamInvite{}
		if scanErr := scanInvite(rows, invite); scanErr != nil {
			return nil, scanErr
		}
		invites = append(invites, invite)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return invites, nil
}

func (r *postgresInviteRepository) UpdateStatusIfPending(ctx context.Context, id int, status models.InviteStatus, at time.Time) error {
	query := `
		UPDATE team_invites
		SET status = $2,
		    accepted_at = CASE WHEN $2 = 'accepted' THEN $3 ELSE accepted_at END,
		    rejected_at = CASE WHEN $2 = 'rejected' THEN $3 ELSE rejected_at END
		WHERE id = $1
		  AND status = 'pending'
		  AND expires_at > $3`

	result, err := r.db.ExecContext(ctx, query, id, status, at)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInviteStateConflict
	}
	return nil
}

func (r *postgresInviteRepository) RevertToPending(ctx context.Context, id int) error {
	query := `
		UPDATE team_invites
		SET status = 'pending', accepted_at = NULL
		WHERE id = $1
		  AND status = 'accepted'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrInviteStateConflict
	}
	return nil
}

func (r *postgresInviteRepository) ExpirePending(ctx context.Context) (int64, error) {
	query := `
		UPDATE team_invites
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= NOW()`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *postgresInviteRepository) DeleteByTeam(ctx context.Context, teamID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM team_invites WHERE team_id = $1`, teamID)
	return err
}

func (r *postgresInviteRepository) scanOne(row *sql.Row) (*models.TeamInvite, error) {
	invite := &models.TeamInvite{}
	err := scanInvite(row, invite)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	return invite, nil
}

func scanInvite(s rowScanner, invite *models.TeamInvite) error {
	return s.Scan(
		&invite.ID,
		&invite.TeamID,
		&invite.InviterID,
		&invite.InviteeEmail,
		&invite.InviteeUserID,
		&invite.Role,
		&invite.Status,
		&invite.Token,
		&invite.Message,
		&invite.ExpiresAt,
		&invite.AcceptedAt,
		&invite.RejectedAt,
		&invite.CreatedAt,
	)
}
