package session

import (
	"encoding/json"
	"fmt"
)

// State is a serialized browser session: cookies plus per-origin localStorage.
// The JSON layout matches the storage-state files produced by Playwright, so
// artifacts from the original login tooling can be uploaded unchanged.
type State struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Cookie is one stored cookie. Expires is a unix timestamp in seconds, -1 for
// session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Origin holds the localStorage entries of one origin.
type Origin struct {
	Origin       string         `json:"origin"`
	LocalStorage []StorageEntry `json:"localStorage"`
}

// StorageEntry is a single localStorage key/value pair.
type StorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Parse decodes and validates a storage-state document.
func Parse(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("invalid session artifact: %w", err)
	}
	for i, c := range st.Cookies {
		if c.Name == "" || c.Domain == "" {
			return nil, fmt.Errorf("invalid session artifact: cookie %d has no name or domain", i)
		}
	}
	for i, o := range st.Origins {
		if o.Origin == "" {
			return nil, fmt.Errorf("invalid session artifact: origin %d is empty", i)
		}
	}
	return &st, nil
}

// SetOrigin replaces the localStorage entries recorded for origin.
func (s *State) SetOrigin(origin string, entries []StorageEntry) {
	for i := range s.Origins {
		if s.Origins[i].Origin == origin {
			s.Origins[i].LocalStorage = entries
			return
		}
	}
	s.Origins = append(s.Origins, Origin{Origin: origin, LocalStorage: entries})
}

// LocalStorageByOrigin indexes the stored entries by origin.
func (s *State) LocalStorageByOrigin() map[string][]StorageEntry {
	out := make(map[string][]StorageEntry, len(s.Origins))
	for _, o := range s.Origins {
		out[o.Origin] = o.LocalStorage
	}
	return out
}
