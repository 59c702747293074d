package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/susu3304/warboard/internal/config"
	"github.com/susu3304/warboard/internal/war"
)

// BoardService is the slice of the war service the HTTP layer needs.
type BoardService interface {
	War(ctx context.Context, warID string) (*war.War, error)
	Targets(ctx context.Context, warID string) ([]war.Target, error)
	RefreshResults(ctx context.Context, warID string) (int, error)
}

type API struct {
	router *mux.Router
	svc    BoardService
	config *config.Config
}

func New(cfg *config.Config, svc BoardService) *API {
	api := &API{
		router: mux.NewRouter(),
		svc:    svc,
		config: cfg,
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/api/wars/{war_id}", a.handleGetWar).Methods("GET")
	a.router.HandleFunc("/api/wars/{war_id}/targets", a.handleListTargets).Methods("GET")
	a.router.HandleFunc("/api/wars/{war_id}/refresh", a.handleRefresh).Methods("POST")
	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")
}

func (a *API) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

func (a *API) Start() error {
	log.Printf("API server listening on http://%s", a.config.WebBind)
	return http.ListenAndServe(a.config.WebBind, a.Handler())
}
