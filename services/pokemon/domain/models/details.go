package models

// Details is the full remote record for a single Pokemon, as shown on a detail view.
type Details struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	ImageURL  string   `json:"image_url"`
	Types     []string `json:"types"`
	Abilities []string `json:"abilities"`
	Stats     []Stat   `json:"stats"`
}

// Stat is a named base stat.
type Stat struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}
