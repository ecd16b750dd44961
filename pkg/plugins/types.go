// Package plugins discovers skill packs on disk. A pack is a directory holding
// a PACK.yaml manifest, SKILL.md files under skills/ and recipe files under
// recipes/. Packs are read from the repository base directory, then the user's
// home directory, then the packs built into the binary; the first pack with a
// given id wins.
package plugins

import (
	"io/fs"

	"github.com/jingkaihe/skillgate/pkg/skills"
)

// Manifest is the decoded PACK.yaml of a pack.
type Manifest struct {
	ID          string       `yaml:"id"`
	Description string       `yaml:"description"`
	Enabled     *bool        `yaml:"enabled"`
	Scope       skills.Scope `yaml:"scope"`
}

// PackInfo summarises a discovered pack for listing.
type PackInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Path        string   `json:"path"`
	Enabled     bool     `json:"enabled"`
	Skills      []string `json:"skills,omitempty"`
	Recipes     []string `json:"recipes,omitempty"`
	Shadowed    bool     `json:"shadowed,omitempty"`
}

// source is one root directory holding pack directories.
type source struct {
	label string
	root  string
	fsys  fs.FS
}
