package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/Arakas181/ML-HUB-sub000/handlers"
	"github.com/Arakas181/ML-HUB-sub000/middleware"
	"github.com/Arakas181/ML-HUB-sub000/models"
)

func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	tournamentHandler *handlers.TournamentHandler,
	registrationHandler *handlers.RegistrationHandler,
	inviteHandler *handlers.InviteHandler,
	checkInHandler *handlers.CheckInHandler,
	seedingHandler *handlers.SeedingHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/swagger/*", httpSwagger.WrapHandler)

	authenticate := middleware.Authenticate(jwtSecret)

	router.Route("/tournaments", func(r chi.Router) {
		// Публичные маршруты для просмотра
		r.Get("/", tournamentHandler.ListTournamentsHandler)
		r.Get("/{tournamentID}", tournamentHandler.GetTournamentHandler)
		r.Get("/{tournamentID}/registrations", registrationHandler.ListTournamentRegistrationsHandler)
		r.Get("/{tournamentID}/checkins", checkInHandler.ListCheckInsHandler)

		// Действия участников
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/{tournamentID}/registrations", registrationHandler.RegisterTeamHandler)
			r.Post("/{tournamentID}/checkins", checkInHandler.CheckInHandler)
		})

		// Посев доступен только организаторам и админам
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.Authorize(string(models.RoleOrganizer), string(models.RoleAdmin)))
			r.Post("/{tournamentID}/seeding", seedingHandler.SeedTournamentHandler)
		})
	})

	router.Route("/registrations", func(r chi.Router) {
		r.Get("/{registrationID}", registrationHandler.GetRegistrationHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Delete("/{registrationID}", registrationHandler.WithdrawRegistrationHandler)
			r.Post("/{registrationID}/logo", registrationHandler.UploadTeamLogoHandler)
			r.Post("/{registrationID}/invites", inviteHandler.InviteMemberHandler)
			r.Get("/{registrationID}/invites", inviteHandler.ListRegistrationInvitesHandler)
		})
	})

	router.Route("/invites", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/{token}/respond", inviteHandler.RespondInviteHandler)
		})
	})

	router.Get("/ws/tournaments/{tournamentID}", webSocketHandler.ServeWs)
}
