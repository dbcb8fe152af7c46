package handlers

import (
	"errors"
	"net/http"

	"github.com/Arakas181/ML-HUB-sub000/middleware"
	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/services"
)

type RegistrationHandler struct {
	registrationService services.RegistrationService
}

func NewRegistrationHandler(rs services.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{registrationService: rs}
}

// RegisterTeamHandler godoc
// @Summary Зарегистрировать команду на турнир
// @Tags registrations
// @Description Капитан создает заявку и опционально рассылает приглашения по email.
// @Accept json
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Success 201 {object} map[string]interface{} "Заявка создана"
// @Failure 400 {object} map[string]string "Ошибка валидации или дедлайн прошел"
// @Failure 401 {object} map[string]string "Неавторизован"
// @Failure 404 {object} map[string]string "Турнир не найден"
// @Failure 409 {object} map[string]string "Конфликт (имя занято / турнир полон)"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/registrations [post]
func (h *RegistrationHandler) RegisterTeamHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
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
		TeamName     string   `json:"team_name"`
		InviteEmails []string `json:"invite_emails"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.registrationService.RegisterTeam(r.Context(), services.RegisterTeamInput{
		TournamentID:  tournamentID,
		TeamName:      input.TeamName,
		CaptainUserID: currentUserID,
		InviteEmails:  input.InviteEmails,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"registration":    result.Registration,
		"invite_outcomes": result.InviteOutcomes,
	}
	if err := writeJSON(w, http.StatusCreated, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *RegistrationHandler) GetRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	registrationID, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	reg, err := h.registrationService.GetRegistration(r.Context(), registrationID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"registration": reg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *RegistrationHandler) ListTournamentRegistrationsHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var statusFilter *models.RegistrationStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.RegistrationStatus(statusStr)
		switch status {
		case models.RegistrationStatusPending, models.RegistrationStatusConfirmed, models.RegistrationStatusWithdrawn:
			statusFilter = &status
		default:
			badRequestResponse(w, r, errors.New("status must be one of: pending, confirmed, withdrawn"))
			return
		}
	}

	regs, err := h.registrationService.ListByTournament(r.Context(), tournamentID, statusFilter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"registrations": regs}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *RegistrationHandler) WithdrawRegistrationHandler(w http.ResponseWriter, r *http.Request) {
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

	if err := h.registrationService.Withdraw(r.Context(), registrationID, currentUserID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadTeamLogoHandler принимает multipart/form-data с полем logo.
func (h *RegistrationHandler) UploadTeamLogoHandler(w http.ResponseWriter, r *http.Request) {
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

	// Логотип ограничен 5MB.
	if err := r.ParseMultipartForm(5 << 20); err != nil {
		badRequestResponse(w, r, errors.New("failed to parse multipart form (max 5MB)"))
		return
	}

	file, header, err := r.FormFile("logo")
	if err != nil {
		badRequestResponse(w, r, errors.New("missing 'logo' file in form data"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	reg, err := h.registrationService.UploadTeamLogo(r.Context(), registrationID, currentUserID, contentType, file)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"registration": reg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
