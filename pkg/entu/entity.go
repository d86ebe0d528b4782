package entu

import (
	"encoding/json"
	"fmt"
)

// Entity kinds this service cares about. Webhooks fire for other kinds too;
// those resolve to no-ops upstream.
const (
	KindPerson = "person"
	KindGroup  = "grupp"
	KindTask   = "ulesanne"
)

// Relationship property names on CMS entities.
const (
	PropParent   = "_parent"
	PropExpander = "_expander"
	PropGroup    = "grupp"
	PropType     = "_type"
)

// Ref is a reference-property value pointing at another entity. Kind is the
// referenced entity's type when the API included it, otherwise empty; callers
// that need it go through Client.EntityKind.
type Ref struct {
	ID   string `json:"reference"`
	Kind string `json:"entity_type,omitempty"`
}

// Entity is the canonical decoded form of a CMS entity. All knowledge of the
// raw property shapes the API sends lives in decodeEntity; nothing above this
// package re-parses property lists.
type Entity struct {
	ID        string `json:"_id"`
	Kind      string `json:"kind"`
	Parents   []Ref  `json:"parents,omitempty"`
	Groups    []Ref  `json:"groups,omitempty"`
	Expanders []Ref  `json:"expanders,omitempty"`
}

// HasExpander reports whether the entity's _expander list already contains a
// reference to the given entity id.
func (e *Entity) HasExpander(id string) bool {
	for _, ref := range e.Expanders {
		if ref.ID == id {
			return true
		}
	}
	return false
}

// HasParent reports whether the entity's _parent list already contains a
// reference to the given entity id.
func (e *Entity) HasParent(id string) bool {
	for _, ref := range e.Parents {
		if ref.ID == id {
			return true
		}
	}
	return false
}

// rawProperty covers every value shape the API sends for a single property
// entry. Reference properties carry "reference"; plain values carry "string".
// Older accounts nest the referenced type under "entity_type", newer ones
// under "properties._type"; both collapse to Ref.Kind here.
type rawProperty struct {
	ID         string `json:"_id"`
	Reference  string `json:"reference"`
	String     string `json:"string"`
	EntityType string `json:"entity_type"`
	Properties struct {
		Type []struct {
			String string `json:"string"`
		} `json:"_type"`
	} `json:"properties"`
}

func (p rawProperty) ref() Ref {
	kind := p.EntityType
	if kind == "" && len(p.Properties.Type) > 0 {
		kind = p.Properties.Type[0].String
	}
	return Ref{ID: p.Reference, Kind: kind}
}

// rawEntity is the wire form: an id plus named property lists.
type rawEntity struct {
	ID       string                       `json:"_id"`
	Type     []rawProperty                `json:"_type"`
	Parent   []rawProperty                `json:"_parent"`
	Group    []rawProperty                `json:"grupp"`
	Expander []rawProperty                `json:"_expander"`
	Extra    map[string][]json.RawMessage `json:"-"`
}

// decodeEntity converts a raw API entity body into the canonical Entity.
// This is the single place that understands which shape the CMS actually sent.
func decodeEntity(data []byte) (*Entity, error) {
	var raw rawEntity
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("decode entity: missing _id")
	}

	e := &Entity{ID: raw.ID}
	if len(raw.Type) > 0 {
		e.Kind = raw.Type[0].String
	}
	for _, p := range raw.Parent {
		if p.Reference != "" {
			e.Parents = append(e.Parents, p.ref())
		}
	}
	for _, p := range raw.Group {
		if p.Reference != "" {
			e.Groups = append(e.Groups, p.ref())
		}
	}
	for _, p := range raw.Expander {
		if p.Reference != "" {
			e.Expanders = append(e.Expanders, p.ref())
		}
	}
	return e, nil
}
