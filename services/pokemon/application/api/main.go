package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/ghuser/pokedex/pkg/app"
	"github.com/ghuser/pokedex/pkg/auth"
	"github.com/ghuser/pokedex/services/pokemon/application/handlers"
	appsvcs "github.com/ghuser/pokedex/services/pokemon/application/services"
)

// PokemonRoutes registers browse and detail endpoints on the provided chi router.
// The caller owns svcs and runs svcs.Browse.Run for session expiry.
func PokemonRoutes(r chi.Router, a *app.Application, svcs *appsvcs.Services) {
	browseHandler := handlers.NewBrowseHandler(svcs, a.SessionStore, a.Logger)
	r.Group(func(r chi.Router) {
		if a.SessionStore != nil {
			r.Use(auth.LoadBrowseSession(a.SessionStore, a.Logger))
		}
		r.Route("/browse", func(r chi.Router) {
			r.Post("/", browseHandler.Create)
			r.Get("/", browseHandler.Get)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", browseHandler.Get)
				r.Put("/query", browseHandler.SetQuery)
				r.Post("/more", browseHandler.LoadMore)
				r.Post("/refresh", browseHandler.Refresh)
				r.Delete("/", browseHandler.Delete)
			})
		})
		r.Get("/pokemon/{name}", handlers.NewGetPokemonHandler(svcs).Execute)
	})
}
