package handlers

import (
	"errors"
	"net/http"

	"github.com/teamhub/teamhub/middleware"
	"github.com/teamhub/teamhub/services"
)

var (
	errNoRecipients  = errors.New("recipient_ids must not be empty")
	errMissingRoomID = errors.New("room_id is required")
)

// RealtimeHandler — служебный REST-фасад над подсистемой доставки:
// отправка уведомлений, рассылки и справки о присутствии.
type RealtimeHandler struct {
	notificationService services.NotificationService
}

func NewRealtimeHandler(ns services.NotificationService) *RealtimeHandler {
	return &RealtimeHandler{notificationService: ns}
}

func (h *RealtimeHandler) SendNotification(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var body struct {
		RecipientID int `json:"recipient_id"`
		services.NotificationInput
	}
	if err := readJSON(w, r, &body); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	input := body.NotificationInput
	input.SenderID = &currentUserID

	notification, err := h.notificationService.NotifyUser(r.Context(), body.RecipientID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"notification": notification}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *RealtimeHandler) SendBroadcast(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var body struct {
		RecipientIDs []int `json:"recipient_ids"`
		services.NotificationInput
	}
	if err := readJSON(w, r, &body); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if len(body.RecipientIDs) == 0 {
		badRequestResponse(w, r, errNoRecipients)
		return
	}

	input := body.NotificationInput
	input.SenderID = &currentUserID

	created, err := h.notificationService.NotifyBroadcast(r.Context(), body.RecipientIDs, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{"delivered": len(created), "notifications": created}
	if err := writeJSON(w, http.StatusCreated, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *RealtimeHandler) SendToRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RoomID  string                 `json:"room_id"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := readJSON(w, r, &body); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if body.RoomID == "" {
		badRequestResponse(w, r, errMissingRoomID)
		return
	}

	h.notificationService.NotifyRoom(body.RoomID, body.Payload)

	if err := writeJSON(w, http.StatusAccepted, jsonResponse{"message": "event queued for room"}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *RealtimeHandler) ListOnlineUsers(w http.ResponseWriter, r *http.Request) {
	online := h.notificationService.ListOnline()

	response := jsonResponse{"online_users": online, "count": len(online)}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *RealtimeHandler) CheckUserOnline(w http.ResponseWriter, r *http.Request) {
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	response := jsonResponse{"user_id": userID, "online": h.notificationService.IsOnline(userID)}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
