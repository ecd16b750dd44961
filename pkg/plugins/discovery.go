package plugins

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/recipes"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// ManifestFileName is the pack manifest inside each pack directory.
	ManifestFileName = "PACK.yaml"
	// DefaultBaseDir is the repository-local state directory.
	DefaultBaseDir = ".skillgate"

	packsSubdir   = "packs"
	skillsSubdir  = "skills"
	recipesSubdir = "recipes"
	builtinLabel  = "builtin"
)

//go:embed builtin
var builtinFiles embed.FS

// Discovery loads packs from the configured directories.
type Discovery struct {
	baseDir           string
	homeDir           string
	enabled           map[string]bool
	disabled          map[string]bool
	compositionWeight int
	builtin           bool
}

// DiscoveryOption configures a Discovery instance
type DiscoveryOption func(*Discovery) error

// WithBaseDir sets the repository-local base directory.
func WithBaseDir(dir string) DiscoveryOption {
	return func(d *Discovery) error {
		d.baseDir = dir
		return nil
	}
}

// WithHomeDir sets a custom home directory (for testing)
func WithHomeDir(dir string) DiscoveryOption {
	return func(d *Discovery) error {
		d.homeDir = dir
		return nil
	}
}

// WithEnabledPacks force-enables packs regardless of their manifest.
func WithEnabledPacks(ids ...string) DiscoveryOption {
	return func(d *Discovery) error {
		for _, id := range ids {
			d.enabled[strings.TrimSpace(id)] = true
		}
		return nil
	}
}

// WithDisabledPacks force-disables packs. Disabling wins over enabling.
func WithDisabledPacks(ids ...string) DiscoveryOption {
	return func(d *Discovery) error {
		for _, id := range ids {
			d.disabled[strings.TrimSpace(id)] = true
		}
		return nil
	}
}

// WithCompositionWeight sets the fixed weight given to recipes.
func WithCompositionWeight(weight int) DiscoveryOption {
	return func(d *Discovery) error {
		if weight <= 0 {
			return errors.Errorf("composition weight must be positive, got %d", weight)
		}
		d.compositionWeight = weight
		return nil
	}
}

// WithBuiltinPacks toggles the packs compiled into the binary.
func WithBuiltinPacks(enabled bool) DiscoveryOption {
	return func(d *Discovery) error {
		d.builtin = enabled
		return nil
	}
}

// NewDiscovery creates a new pack discovery instance
func NewDiscovery(opts ...DiscoveryOption) (*Discovery, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user home directory")
	}

	d := &Discovery{
		baseDir:           DefaultBaseDir,
		homeDir:           homeDir,
		enabled:           make(map[string]bool),
		disabled:          make(map[string]bool),
		compositionWeight: recipes.DefaultWeight,
		builtin:           true,
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// PackDirs returns the on-disk directories holding packs, in precedence order.
func (d *Discovery) PackDirs() []string {
	dirs := []string{filepath.Join(d.baseDir, packsSubdir)}
	if d.homeDir != "" {
		global := filepath.Join(d.homeDir, DefaultBaseDir, packsSubdir)
		if global != dirs[0] {
			dirs = append(dirs, global)
		}
	}
	return dirs
}

func (d *Discovery) sources() []source {
	var out []source
	for _, dir := range d.PackDirs() {
		out = append(out, source{label: dir, root: dir, fsys: os.DirFS(dir)})
	}
	if d.builtin {
		sub, err := fs.Sub(builtinFiles, builtinLabel)
		if err == nil {
			out = append(out, source{label: builtinLabel, fsys: sub})
		}
	}
	return out
}

// Packs loads every pack. Problems with individual files are collected into
// the returned error and the affected descriptor or pack is left out; the
// returned packs are always usable.
func (d *Discovery) Packs(ctx context.Context) ([]skills.Pack, error) {
	var (
		packs  []skills.Pack
		result *multierror.Error
	)
	seen := make(map[string]string)

	for _, src := range d.sources() {
		dirs, err := packDirNames(src.fsys)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("dir", src.label).Debug("failed to read packs directory")
			continue
		}

		for _, dir := range dirs {
			pack, err := d.loadPack(ctx, src, dir)
			if err != nil {
				result = multierror.Append(result, err)
			}
			if pack == nil {
				continue
			}
			if prev, ok := seen[pack.ID]; ok {
				logger.G(ctx).WithFields(logrus.Fields{
					logger.FieldPack: pack.ID,
					"shadowed_by":    prev,
					"dir":            src.label,
				}).Debug("pack shadowed by higher precedence directory")
				continue
			}
			seen[pack.ID] = src.label
			packs = append(packs, *pack)
		}
	}

	return packs, result.ErrorOrNil()
}

// LoadRegistry discovers packs and builds a registry from them. The registry
// is always returned; err aggregates discovery and validation problems.
func (d *Discovery) LoadRegistry(ctx context.Context) (*skills.Registry, error) {
	packs, discoverErr := d.Packs(ctx)
	reg, loadErr := skills.Load(ctx, packs)

	var result *multierror.Error
	if discoverErr != nil {
		result = multierror.Append(result, discoverErr)
	}
	if loadErr != nil {
		result = multierror.Append(result, loadErr)
	}
	return reg, result.ErrorOrNil()
}

// List summarises the packs found in every source, including shadowed ones.
func (d *Discovery) List(ctx context.Context) ([]PackInfo, error) {
	var (
		infos  []PackInfo
		result *multierror.Error
	)
	seen := make(map[string]bool)

	for _, src := range d.sources() {
		dirs, err := packDirNames(src.fsys)
		if err != nil {
			continue
		}
		for _, dir := range dirs {
			pack, err := d.loadPack(ctx, src, dir)
			if err != nil {
				result = multierror.Append(result, err)
			}
			if pack == nil {
				continue
			}
			info := PackInfo{
				ID:          pack.ID,
				Description: pack.Description,
				Path:        sourcePath(src, dir),
				Enabled:     pack.Enabled,
				Shadowed:    seen[pack.ID],
			}
			for _, desc := range pack.Descriptors {
				if desc.IsComposition() {
					info.Recipes = append(info.Recipes, desc.Name)
				} else {
					info.Skills = append(info.Skills, desc.Name)
				}
			}
			seen[pack.ID] = true
			infos = append(infos, info)
		}
	}

	return infos, result.ErrorOrNil()
}

func (d *Discovery) loadPack(ctx context.Context, src source, dir string) (*skills.Pack, error) {
	manifest, err := readManifest(src.fsys, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", sourcePath(src, dir))
	}

	id := manifest.ID
	if id == "" {
		id = dir
	}
	if id != dir {
		return nil, errors.Errorf("pack %s declares id %q which does not match its directory", sourcePath(src, dir), id)
	}

	enabled := true
	if manifest.Enabled != nil {
		enabled = *manifest.Enabled
	}
	if d.enabled[id] {
		enabled = true
	}
	if d.disabled[id] {
		enabled = false
	}

	pack := &skills.Pack{
		ID:          id,
		Description: manifest.Description,
		Enabled:     enabled,
		Scope:       manifest.Scope,
	}

	var result *multierror.Error
	descs, err := d.loadSkills(src, dir, id)
	if err != nil {
		result = multierror.Append(result, err)
	}
	pack.Descriptors = append(pack.Descriptors, descs...)

	descs, err = d.loadRecipes(src, dir, id)
	if err != nil {
		result = multierror.Append(result, err)
	}
	pack.Descriptors = append(pack.Descriptors, descs...)

	logger.G(ctx).WithFields(logrus.Fields{
		logger.FieldPack: id,
		"descriptors":    len(pack.Descriptors),
		"enabled":        enabled,
	}).Debug("loaded pack")

	return pack, result.ErrorOrNil()
}

func (d *Discovery) loadSkills(src source, dir, packID string) ([]skills.Descriptor, error) {
	skillsDir := path.Join(dir, skillsSubdir)
	entries, err := fs.ReadDir(src.fsys, skillsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", sourcePath(src, skillsDir))
	}

	var (
		descs  []skills.Descriptor
		result *multierror.Error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		file := path.Join(skillsDir, entry.Name(), skills.SkillFileName)
		content, err := fs.ReadFile(src.fsys, file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			result = multierror.Append(result, errors.Wrapf(err, "failed to read %s", sourcePath(src, file)))
			continue
		}

		desc, err := skills.ParseSkill(content, packID)
		if err != nil {
			result = multierror.Append(result, &skills.MalformedDescriptorError{
				Pack:   packID,
				ID:     skills.JoinID(packID, entry.Name()),
				Source: sourcePath(src, file),
				Reason: err.Error(),
			})
			continue
		}
		desc.Source = sourcePath(src, file)
		descs = append(descs, desc)
	}

	return descs, result.ErrorOrNil()
}

func (d *Discovery) loadRecipes(src source, dir, packID string) ([]skills.Descriptor, error) {
	recipesDir := path.Join(dir, recipesSubdir)
	entries, err := fs.ReadDir(src.fsys, recipesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", sourcePath(src, recipesDir))
	}

	var (
		descs  []skills.Descriptor
		result *multierror.Error
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recipes.Extension) {
			continue
		}
		file := path.Join(recipesDir, entry.Name())
		content, err := fs.ReadFile(src.fsys, file)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to read %s", sourcePath(src, file)))
			continue
		}

		name := recipes.NameFromPath(entry.Name())
		r, err := recipes.Parse(content, name)
		if err != nil {
			result = multierror.Append(result, &skills.MalformedDescriptorError{
				Pack:   packID,
				ID:     skills.JoinID(packID, name),
				Source: sourcePath(src, file),
				Reason: err.Error(),
			})
			continue
		}
		r.Source = sourcePath(src, file)
		descs = append(descs, r.Descriptor(packID, d.compositionWeight))
	}

	return descs, result.ErrorOrNil()
}

func readManifest(fsys fs.FS, dir string) (Manifest, error) {
	var m Manifest
	data, err := fs.ReadFile(fsys, path.Join(dir, ManifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return m, errors.Wrap(err, "failed to read manifest")
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, errors.Wrap(err, "failed to decode manifest")
	}
	m.ID = strings.TrimSpace(m.ID)
	return m, nil
}

// packDirNames returns the pack directories of a source in lexical order.
func packDirNames(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func sourcePath(src source, rel string) string {
	if src.root == "" {
		return src.label + ":" + rel
	}
	return filepath.Join(src.root, filepath.FromSlash(rel))
}
