package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/teamhub/teamhub/models"
)

var (
	ErrNotificationNotFound         = errors.New("notification not found")
	ErrNotificationRecipientInvalid = errors.New("notification recipient invalid")
)

// NotificationFilter задаёт выборку ленты уведомлений получателя.
type NotificationFilter struct {
	RecipientID int
	Type        *models.NotificationType
	IsRead      *bool
	Limit       int
	Offset      int
}

type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id, recipientID int) (*models.Notification, error)
	ListByRecipient(ctx context.Context, filter NotificationFilter) ([]*models.Notification, int, error)
	MarkRead(ctx context.Context, id, recipientID int, at time.Time) error
	MarkAllRead(ctx context.Context, recipientID int, at time.Time) (int64, error)
	Delete(ctx context.Context, id, recipientID int) error
	CountUnread(ctx context.Context, recipientID int) (int, error)
}

type postgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) NotificationRepository {
	return &postgresNotificationRepository{db: db}
}

const notificationColumns = `id, recipient_id, sender_id, type, title, message, payload, is_read, read_at, created_at`

func (r *postgresNotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	payloadJSON, err := jsonbValue(notification.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (recipient_id, sender_id, type, title, message, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_read, created_at`

	err = r.db.QueryRowContext(ctx, query,
		notification.RecipientID,
		notification.SenderID,
		notification.Type,
		notification.Title,
		notification.Message,
		payloadJSON,
	).Scan(&notification.ID, &notification.IsRead, &notification.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrNotificationRecipientInvalid
		}
		return err
	}

	return nil
}

func (r *postgresNotificationRepository) GetByID(ctx context.Context, id, recipientID int) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND recipient_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id, recipientID))
}

func (r *postgresNotificationRepository) ListByRecipient(ctx context.Context, filter NotificationFilter) ([]*models.Notification, int, error) {
	where := `WHERE recipient_id = $1`
	args := []interface{}{filter.RecipientID}

	if filter.Type != nil {
		args = append(args, *filter.Type)
		where += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if filter.IsRead != nil {
		args = append(args, *filter.IsRead)
		where += fmt.Sprintf(` AND is_read = $%d`, len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM notifications `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications ` + where + ` ORDER BY created_at DESC`
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

	notifications := make([]*models.Notification, 0)
	for rows.Next() {
		notification := &models.Notification{}
		if scanErr := scanNotification(rows, notification); scanErr != nil {
			return nil, 0, scanErr
		}
		notifications = append(notifications, notification)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

func (r *postgresNotificationRepository) MarkRead(ctx context.Context, id, recipientID int, at time.Time) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $3
		WHERE id = $1 AND recipient_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, recipientID, at)
	if err != nil {
		return err
	}
	return requireRow(result, ErrNotificationNotFound)
}

func (r *postgresNotificationRepository) MarkAllRead(ctx context.Context, recipientID int, at time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND is_read = FALSE`

	result, err := r.db.ExecContext(ctx, query, recipientID, at)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *postgresNotificationRepository) Delete(ctx context.Context, id, recipientID int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return err
	}
	return requireRow(result, ErrNotificationNotFound)
}

func (r *postgresNotificationRepository) CountUnread(ctx context.Context, recipientID int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, recipientID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *postgresNotificationRepository) scanOne(row *sql.Row) (*models.Notification, error) {
	notification := &models.Notification{}
	err := scanNotification(row, notification)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return notification, nil
}

func scanNotification(s rowScanner, notification *models.Notification) error {
	var payloadRaw []byte
	if err := s.Scan(
		&notification.ID,
		&notification.RecipientID,
		&notification.SenderID,
		&notification.Type,
		&notification.Title,
		&notification.Message,
		&payloadRaw,
		&notification.IsRead,
		&notification.ReadAt,
		&notification.CreatedAt,
	); err != nil {
		return err
	}
	return scanJSONB(payloadRaw, &notification.Payload)
}
