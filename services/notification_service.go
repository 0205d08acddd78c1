package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teamhub/teamhub/models"
	"github.com/teamhub/teamhub/repositories"
)

const broadcastConcurrency = 8

// Pusher — интерфейс live-доставки, реализуется realtime.Hub. Пуш
// неблокирующий и без подтверждений: отвалившийся клиент узнает о
// пропущенном из долговременной записи при следующем запросе.
type Pusher interface {
	PushToUser(userID int, eventType string, payload interface{})
	PushToRoom(roomID, eventType string, payload interface{})
	IsOnline(userID int) bool
	ListOnline() []int
}

type NotificationInput struct {
	Type     models.NotificationType `json:"type"`
	Title    string                  `json:"title"`
	Message  string                  `json:"message"`
	SenderID *int                    `json:"sender_id,omitempty"`
	Payload  map[string]interface{}  `json:"payload,omitempty"`
}

type NotificationService interface {
	// NotifyUser безусловно пишет долговременную запись, затем, если
	// получатель онлайн, пушит live-событие во все его соединения.
	// Сбой пуша никогда не отменяет и не откатывает запись.
	NotifyUser(ctx context.Context, recipientID int, input NotificationInput) (*models.Notification, error)

	// NotifyBroadcast применяет NotifyUser независимо к каждому получателю;
	// частичные сбои не блокируют остальных. Возвращает созданные записи.
	NotifyBroadcast(ctx context.Context, recipientIDs []int, input NotificationInput) ([]*models.Notification, error)

	// NotifyRoom пушит в комнату без долговременной записи на каждого —
	// для эфемерных сигналов и эха уже сохранённых уведомлений.
	NotifyRoom(roomID string, notification interface{})

	List(ctx context.Context, filter repositories.NotificationFilter) ([]*models.Notification, int, error)
	GetByID(ctx context.Context, id, recipientID int) (*models.Notification, error)
	MarkAsRead(ctx context.Context, id, recipientID int) (*models.Notification, error)
	MarkAllAsRead(ctx context.Context, recipientID int) (int64, error)
	Delete(ctx context.Context, id, recipientID int) error
	UnreadCount(ctx context.Context, recipientID int) (int, error)

	IsOnline(userID int) bool
	ListOnline() []int
}

type notificationService struct {
	notificationRepo repositories.NotificationRepository
	pusher           Pusher
	logger           *slog.Logger
}

func NewNotificationService(
	notificationRepo repositories.NotificationRepository,
	pusher Pusher,
	logger *slog.Logger,
) NotificationService {
	return &notificationService{
		notificationRepo: notificationRepo,
		pusher:           pusher,
		logger:           logger,
	}
}

func (s *notificationService) NotifyUser(ctx context.Context, recipientID int, input NotificationInput) (*models.Notification, error) {
	if err := validateNotificationInput(input); err != nil {
		return nil, err
	}

	notification := &models.Notification{
		RecipientID: recipientID,
		SenderID:    input.SenderID,
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		Payload:     input.Payload,
	}

	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		if errors.Is(err, repositories.ErrNotificationRecipientInvalid) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	// Пуш строго после записи и только при живом соединении.
	if s.pusher.IsOnline(recipientID) {
		s.pusher.PushToUser(recipientID, "new_notification", notification)
	}

	return notification, nil
}

func (s *notificationService) NotifyBroadcast(ctx context.Context, recipientIDs []int, input NotificationInput) ([]*models.Notification, error) {
	if err := validateNotificationInput(input); err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		created []*models.Notification
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)

	for _, recipientID := range recipientIDs {
		recipientID := recipientID
		g.Go(func() error {
			notification, err := s.NotifyUser(gCtx, recipientID, input)
			if err != nil {
				// Сбой одного получателя не валит рассылку.
				s.logger.Warn("broadcast notification failed for recipient",
					"recipient_id", recipientID, "error", err)
				return nil
			}
			mu.Lock()
			created = append(created, notification)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return created, err
	}
	return created, nil
}

func (s *notificationService) NotifyRoom(roomID string, notification interface{}) {
	s.pusher.PushToRoom(roomID, "new_notification", notification)
}

func (s *notificationService) List(ctx context.Context, filter repositories.NotificationFilter) ([]*models.Notification, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return s.notificationRepo.ListByRecipient(ctx, filter)
}

func (s *notificationService) GetByID(ctx context.Context, id, recipientID int) (*models.Notification, error) {
	notification, err := s.notificationRepo.GetByID(ctx, id, recipientID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotificationNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return notification, nil
}

func (s *notificationService) MarkAsRead(ctx context.Context, id, recipientID int) (*models.Notification, error) {
	if err := s.notificationRepo.MarkRead(ctx, id, recipientID, time.Now()); err != nil {
		if errors.Is(err, repositories.ErrNotificationNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return s.GetByID(ctx, id, recipientID)
}

func (s *notificationService) MarkAllAsRead(ctx context.Context, recipientID int) (int64, error) {
	return s.notificationRepo.MarkAllRead(ctx, recipientID, time.Now())
}

func (s *notificationService) Delete(ctx context.Context, id, recipientID int) error {
	err := s.notificationRepo.Delete(ctx, id, recipientID)
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

func (s *notificationService) UnreadCount(ctx context.Context, recipientID int) (int, error) {
	return s.notificationRepo.CountUnread(ctx, recipientID)
}

func (s *notificationService) IsOnline(userID int) bool { return s.pusher.IsOnline(userID) }
func (s *notificationService) ListOnline() []int        { return s.pusher.ListOnline() }

func validateNotificationInput(input NotificationInput) error {
	if !input.Type.Valid() {
		return ErrInvalidNotificationType
	}
	if input.Title == "" {
		return ErrNotificationTitleRequired
	}
	if input.Message == "" {
		return fmt.Errorf("%w: message is required", ErrValidationFailed)
	}
	return nil
}
