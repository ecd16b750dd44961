// Package skills holds the catalog of installed skill descriptors.
//
// A skill is a unit of procedural knowledge identified as "pack/name". Skills
// are grouped into packs which are enabled or disabled per session. Each
// descriptor carries an ordered list of activation rules; satisfying any one
// of them makes the descriptor a candidate for admission into a session's
// bounded context. The Registry built from the catalog is immutable and safe
// to share between sessions.
package skills

import "strings"

// Layer identifies which part of the layered context model a piece of
// content lives in.
type Layer string

// Context layers. Only procedural and composition content is budget tracked.
const (
	LayerIdentity    Layer = "identity"
	LayerProcedural  Layer = "procedural"
	LayerComposition Layer = "composition"
	LayerWorking     Layer = "working"
)

// Descriptor is the immutable metadata and content of one skill or recipe.
type Descriptor struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Pack          string   `json:"pack"`
	Description   string   `json:"description"`
	Rules         []Rule   `json:"-"`
	Weight        int      `json:"weight"`
	Preconditions []string `json:"preconditions,omitempty"`
	Guarantees    []string `json:"guarantees,omitempty"`
	Layer         Layer    `json:"layer"`
	// References lists the procedural descriptors a composition entry admits on demand.
	References []string `json:"references,omitempty"`
	Body       string   `json:"-"`
	Source     string   `json:"source,omitempty"`
	// Order is the registry declaration index, assigned by Load.
	Order int `json:"order"`
}

// IsComposition reports whether the descriptor is a recipe.
func (d Descriptor) IsComposition() bool {
	return d.Layer == LayerComposition
}

func (d Descriptor) clone() Descriptor {
	c := d
	c.Rules = append([]Rule(nil), d.Rules...)
	c.Preconditions = append([]string(nil), d.Preconditions...)
	c.Guarantees = append([]string(nil), d.Guarantees...)
	c.References = append([]string(nil), d.References...)
	if c.Layer == "" {
		c.Layer = LayerProcedural
	}
	return c
}

// Scope is the declared boundary of a pack: what it deliberately does not cover.
// It is only consulted by Lint.
type Scope struct {
	Excludes []string `yaml:"excludes" json:"excludes,omitempty"`
}

// Pack is a named group of descriptors which is enabled or disabled as a unit.
type Pack struct {
	ID          string       `json:"id"`
	Description string       `json:"description,omitempty"`
	Enabled     bool         `json:"enabled"`
	Scope       Scope        `json:"scope"`
	Descriptors []Descriptor `json:"descriptors,omitempty"`
}

// SplitID splits "pack/name" at the last slash. Pack identifiers may
// themselves contain slashes (e.g. "org/repo/skill").
func SplitID(id string) (pack, name string, ok bool) {
	i := strings.LastIndex(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// JoinID builds a descriptor identifier from a pack and a name.
func JoinID(pack, name string) string {
	return pack + "/" + name
}

// EstimateWeight approximates the context weight of a body as roughly one
// unit per four bytes, never less than one.
func EstimateWeight(body string) int {
	w := (len(body) + 3) / 4
	if w < 1 {
		return 1
	}
	return w
}
