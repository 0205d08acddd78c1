package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/teamhub/teamhub/middleware"
	"github.com/teamhub/teamhub/models"
	"github.com/teamhub/teamhub/services"
)

var errMissingToken = errors.New("invite token is required")

type InviteHandler struct {
	inviteService services.InviteService
}

func NewInviteHandler(is services.InviteService) *InviteHandler {
	return &InviteHandler{inviteService: is}
}

func (h *InviteHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	teamID, err := getIDFromURL(r, "teamID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var body struct {
		InviteeEmail string          `json:"invitee_email"`
		Role         models.TeamRole `json:"role"`
		Message      string          `json:"message"`
	}
	if err := readJSON(w, r, &body); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if body.Role == "" {
		body.Role = models.TeamRoleMember
	}

	invite, err := h.inviteService.CreateInvite(r.Context(), services.CreateInviteInput{
		TeamID:       teamID,
		InviterID:    currentUserID,
		InviteeEmail: body.InviteeEmail,
		Role:         body.Role,
		Message:      body.Message,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"invite": invite}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetInviteByToken — публичный предпросмотр приглашения по токену,
// без аутентификации. Сам токен в ответ не попадает.
func (h *InviteHandler) GetInviteByToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		badRequestResponse(w, r, errMissingToken)
		return
	}

	summary, err := h.inviteService.GetInviteByToken(r.Context(), token)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"invite": summary}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *InviteHandler) ListMyInvites(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	invites, err := h.inviteService.ListMyInvites(r.Context(), currentUserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"invites": invites}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *InviteHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	token, currentUserID, ok := h.tokenAndUser(w, r)
	if !ok {
		return
	}

	team, err := h.inviteService.AcceptInvite(r.Context(), token, currentUserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"team": team}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *InviteHandler) RejectInvite(w http.ResponseWriter, r *http.Request) {
	token, currentUserID, ok := h.tokenAndUser(w, r)
	if !ok {
		return
	}

	if err := h.inviteService.RejectInvite(r.Context(), token, currentUserID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"message": "invite rejected"}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *InviteHandler) tokenAndUser(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return "", 0, false
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := readJSON(w, r, &body); err != nil {
		badRequestResponse(w, r, err)
		return "", 0, false
	}
	if body.Token == "" {
		badRequestResponse(w, r, errMissingToken)
		return "", 0, false
	}

	return body.Token, currentUserID, true
}
