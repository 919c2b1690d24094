// Package manifest parses the update-feed JSON document describing an
// available update. Only a handful of fields drive the installer;
// everything else is round-tripped verbatim so a feed author can add
// fields (release notes in multiple languages, signature metadata)
// without the installer silently discarding them if the document is
// ever re-serialized.
package manifest

import "encoding/json"

// Manifest is one update entry from the feed.
type Manifest struct {
	URL     string `json:"url"`
	Notes   string `json:"notes,omitempty"`
	Name    string `json:"name,omitempty"`
	PubDate string `json:"pub_date,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type manifestAlias Manifest

// UnmarshalJSON decodes the known fields into the struct and stashes
// everything else in Extra.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var alias manifestAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{"url", "notes", "name", "pub_date"} {
		delete(raw, known)
	}

	*m = Manifest(alias)
	m.Extra = raw
	return nil
}

// MarshalJSON re-emits the known fields alongside any Extra fields
// captured on decode.
func (m Manifest) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range m.Extra {
		out[k] = v
	}

	encode := func(key string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if err := encode("url", m.URL); err != nil {
		return nil, err
	}
	if m.Notes != "" {
		if err := encode("notes", m.Notes); err != nil {
			return nil, err
		}
	}
	if m.Name != "" {
		if err := encode("name", m.Name); err != nil {
			return nil, err
		}
	}
	if m.PubDate != "" {
		if err := encode("pub_date", m.PubDate); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// Parse decodes a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
