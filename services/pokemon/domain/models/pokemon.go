package models

// Pokemon is the cached list entry. It is the unit the local store pages over
// and is always written whole, together with its PageCursor.
type Pokemon struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// PageCursor records which remote page produced a cached Pokemon.
// PrevPage is nil for items from the first page; NextPage is nil once the
// remote signalled end-of-data for the producing page.
type PageCursor struct {
	PokemonID int
	PrevPage  *int
	NextPage  *int
}

// ListEntry is one row of the remote list endpoint before transformation.
type ListEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PageMerge summarizes one committed merge of a remote page into the local store.
type PageMerge struct {
	Page       int
	Refresh    bool
	EndReached bool
	PokemonIDs []int
	Names      []string
}
