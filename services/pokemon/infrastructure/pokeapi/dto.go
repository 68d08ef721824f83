package pokeapi

type listResponse struct {
	Count   int         `json:"count"`
	Next    *string     `json:"next"`
	Results []namedLink `json:"results"`
}

type namedLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type detailResponse struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Sprites struct {
		FrontDefault *string `json:"front_default"`
	} `json:"sprites"`
	Types []struct {
		Slot int       `json:"slot"`
		Type namedLink `json:"type"`
	} `json:"types"`
	Abilities []struct {
		Ability namedLink `json:"ability"`
	} `json:"abilities"`
	Stats []struct {
		BaseStat int       `json:"base_stat"`
		Stat     namedLink `json:"stat"`
	} `json:"stats"`
}
