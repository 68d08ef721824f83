package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/pokedex/pkg/errhttp"
	"github.com/ghuser/pokedex/pkg/httpx"
	pkgvalidator "github.com/ghuser/pokedex/pkg/validator"
	appsvcs "github.com/ghuser/pokedex/services/pokemon/application/services"
)

const nameRules = "required,max=100,pokemon_name"

// StatResponse is one base stat.
type StatResponse struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// DetailResponse is returned by GET /api/pokemon/{name}.
type DetailResponse struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	ImageURL  string         `json:"image_url"`
	Types     []string       `json:"types"`
	Abilities []string       `json:"abilities"`
	Stats     []StatResponse `json:"stats"`
}

// GetPokemonHandler handles GET /api/pokemon/{name}.
type GetPokemonHandler struct {
	svc *appsvcs.Services
}

// NewGetPokemonHandler returns a GetPokemonHandler backed by the given services.
func NewGetPokemonHandler(svc *appsvcs.Services) *GetPokemonHandler {
	return &GetPokemonHandler{svc: svc}
}

// Execute resolves the detail lookup and maps a DetailError onto its status.
func (h *GetPokemonHandler) Execute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !pkgvalidator.ValidateParam(w, "name", name, nameRules) {
		return
	}
	switch res := h.svc.Pokemon.Lookup(r.Context(), name).(type) {
	case appsvcs.DetailSuccess:
		d := res.Details
		stats := make([]StatResponse, len(d.Stats))
		for i, st := range d.Stats {
			stats[i] = StatResponse{Name: st.Name, Value: st.Value}
		}
		httpx.JSON(w, http.StatusOK, DetailResponse{
			ID:        d.ID,
			Name:      d.Name,
			ImageURL:  d.ImageURL,
			Types:     d.Types,
			Abilities: d.Abilities,
			Stats:     stats,
		})
	case appsvcs.DetailError:
		httpx.JSONError(w, errhttp.StatusFor(res.Err), res.Message)
	default:
		httpx.JSONError(w, http.StatusInternalServerError, appsvcs.UnknownErrorMessage)
	}
}
