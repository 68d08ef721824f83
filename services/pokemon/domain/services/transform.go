// Package services contains stateless domain services for the pokemon bounded context.
// Domain services operate purely on domain types and have zero external
// dependencies beyond stdlib and the domain layer.
package services

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
)

const artworkURLTemplate = "https://raw.githubusercontent.com/PokeAPI/sprites/master/sprites/pokemon/other/official-artwork/%d.png"

// ParseResourceID extracts the numeric id from a remote resource URL such as
// "https://pokeapi.co/api/v2/pokemon/25/". The id is the last non-empty path segment.
func ParseResourceID(url string) (int, error) {
	trimmed := strings.TrimRight(url, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidResourceURL, url)
	}
	id, err := strconv.Atoi(trimmed[idx+1:])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidResourceURL, url)
	}
	return id, nil
}

// ArtworkURL returns the official artwork image URL for id.
func ArtworkURL(id int) string {
	return fmt.Sprintf(artworkURLTemplate, id)
}

// DisplayName upper-cases the first character and leaves the rest untouched,
// so "mr-mime" becomes "Mr-mime".
func DisplayName(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// ToPokemon converts a remote list entry into the cached representation.
func ToPokemon(entry models.ListEntry) (models.Pokemon, error) {
	id, err := ParseResourceID(entry.URL)
	if err != nil {
		return models.Pokemon{}, err
	}
	return models.Pokemon{
		ID:       id,
		Name:     DisplayName(entry.Name),
		ImageURL: ArtworkURL(id),
	}, nil
}

// ToPokemonList converts a whole remote page, failing on the first malformed entry
// so a page is never merged partially.
func ToPokemonList(entries []models.ListEntry) ([]models.Pokemon, error) {
	out := make([]models.Pokemon, 0, len(entries))
	for _, e := range entries {
		p, err := ToPokemon(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
