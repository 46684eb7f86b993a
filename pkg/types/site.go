package types

import "time"

// Site identifies one configured meter pair.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// ImportEntity/ExportEntity name the upstream meter registers readings
	// are reported from. ExportEntity is empty for import-only sites.
	ImportEntity string    `json:"importEntity"`
	ExportEntity string    `json:"exportEntity,omitempty"`
	Created      time.Time `json:"created"`
}
