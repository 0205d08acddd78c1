package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
	"github.com/teamhub/teamhub/handlers"
	"github.com/teamhub/teamhub/middleware"
)

type Handlers struct {
	Auth         *handlers.AuthHandler
	User         *handlers.UserHandler
	Team         *handlers.TeamHandler
	Invite       *handlers.InviteHandler
	Notification *handlers.NotificationHandler
	Realtime     *handlers.RealtimeHandler
	WebSocket    *handlers.WebSocketHandler
}

func InitRoutes(h Handlers, jwtSecret, corsOrigin string) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{corsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate([]byte(jwtSecret))

	router.Post("/auth/register", h.Auth.Register)
	router.Post("/auth/login", h.Auth.Login)

	// WebSocket аутентифицируется сам, до апгрейда.
	router.Get("/ws", h.WebSocket.ServeWS)

	router.Route("/users", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/me", h.User.GetMe)
		r.Post("/me/avatar", h.User.UploadAvatar)
	})

	router.Route("/teams", func(r chi.Router) {
		// Публичный предпросмотр приглашения по токену из письма.
		r.Get("/invite/{token}", h.Invite.GetInviteByToken)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/", h.Team.ListTeams)
			r.Post("/", h.Team.CreateTeam)

			r.Post("/invite/accept", h.Invite.AcceptInvite)
			r.Post("/invite/reject", h.Invite.RejectInvite)
			r.Get("/invites/my-invites", h.Invite.ListMyInvites)

			r.Route("/{teamID}", func(r chi.Router) {
				r.Get("/", h.Team.GetTeamByID)
				r.Put("/", h.Team.UpdateTeam)
				r.Delete("/", h.Team.DeleteTeam)

				r.Post("/invite", h.Invite.CreateInvite)
				r.Post("/avatar", h.Team.UploadAvatar)

				r.Delete("/members/{memberID}", h.Team.RemoveMember)
				r.Patch("/members/{memberID}/role", h.Team.UpdateMemberRole)
			})
		})
	})

	router.Route("/notifications", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/", h.Notification.ListNotifications)
		r.Get("/unread-count", h.Notification.GetUnreadCount)
		r.Patch("/read-all", h.Notification.MarkAllAsRead)
		r.Get("/{notificationID}", h.Notification.GetNotification)
		r.Patch("/{notificationID}/read", h.Notification.MarkAsRead)
		r.Delete("/{notificationID}", h.Notification.DeleteNotification)
	})

	router.Route("/realtime", func(r chi.Router) {
		r.Use(authenticate)

		r.Post("/notification", h.Realtime.SendNotification)
		r.Post("/broadcast", h.Realtime.SendBroadcast)
		r.Post("/room", h.Realtime.SendToRoom)
		r.Get("/online-users", h.Realtime.ListOnlineUsers)
		r.Get("/online/{userID}", h.Realtime.CheckUserOnline)
	})

	return router
}
