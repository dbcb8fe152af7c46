package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Arakas181/ML-HUB-sub000/middleware"
	"github.com/Arakas181/ML-HUB-sub000/services"
)

type InviteHandler struct {
	inviteService services.InviteService
}

func NewInviteHandler(is services.InviteService) *InviteHandler {
	return &InviteHandler{inviteService: is}
}

// InviteMemberHandler godoc
// @Summary Пригласить игрока в команду
// @Tags invites
// @Description Капитан приглашает зарегистрированного пользователя портала по email.
// @Accept json
// @Produce json
// @Param registrationID path int true "Registration ID"
// @Success 201 {object} map[string]interface{} "Приглашение создано"
// @Failure 400 {object} map[string]string "Состав укомплектован"
// @Failure 403 {object} map[string]string "Не капитан"
// @Failure 404 {object} map[string]string "Заявка или пользователь не найдены"
// @Failure 409 {object} map[string]string "Пользователь уже в составе"
// @Security BearerAuth
// @Router /registrations/{registrationID}/invites [post]
func (h *InviteHandler) InviteMemberHandler(w http.ResponseWriter, r *http.Request) {
	registrationID, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var input struct {
		Email string `json:"email"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Email == "" {
		badRequestResponse(w, r, errors.New("email is required"))
		return
	}

	member, err := h.inviteService.InviteMember(r.Context(), registrationID, currentUserID, input.Email)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	// Токен наружу не отдаём: он уходит приглашённому по email.
	response := jsonResponse{
		"member": map[string]interface{}{
			"id":              member.ID,
			"registration_id": member.RegistrationID,
			"user_id":         member.UserID,
			"role":            member.Role,
			"status":          member.Status,
			"invited_at":      member.InvitedAt,
		},
	}
	if err := writeJSON(w, http.StatusCreated, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// RespondInviteHandler обрабатывает accept/decline по токену из письма.
func (h *InviteHandler) RespondInviteHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		badRequestResponse(w, r, errors.New("missing invite token in URL path"))
		return
	}

	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to respond to an invite")
		return
	}

	var input struct {
		Response string `json:"response"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.inviteService.RespondInvite(r.Context(), token, currentUserID, services.InviteResponse(input.Response))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"member":                 result.Member,
		"registration_confirmed": result.RegistrationConfirmed,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *InviteHandler) ListRegistrationInvitesHandler(w http.ResponseWriter, r *http.Request) {
	registrationID, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	entries, err := h.inviteService.ListRegistrationInvites(r.Context(), registrationID, currentUserID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	// Подчищаем токены: капитан видит статус приглашений, но не секреты.
	for i := range entries {
		entries[i].Member.InviteToken = nil
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"invites": entries}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
