package skills

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Registry is the read-only catalog of descriptors built once per process or
// session start. It has no mutation path after Load returns.
type Registry struct {
	packs       []Pack
	enabled     map[string]bool
	descriptors []Descriptor
	byID        map[string]int
}

// Load validates the packs and builds a Registry. Malformed descriptors are
// excluded and logged; their errors are aggregated into the returned error,
// which is never fatal: the registry is always usable.
func Load(ctx context.Context, packs []Pack) (*Registry, error) {
	r := &Registry{
		enabled: make(map[string]bool, len(packs)),
		byID:    make(map[string]int),
	}

	var result *multierror.Error
	seenPacks := make(map[string]bool, len(packs))

	for _, p := range packs {
		if strings.TrimSpace(p.ID) == "" {
			result = multierror.Append(result, errors.New("pack with empty id skipped"))
			continue
		}
		if seenPacks[p.ID] {
			result = multierror.Append(result, errors.Errorf("duplicate pack %q skipped", p.ID))
			continue
		}
		seenPacks[p.ID] = true

		kept := Pack{
			ID:          p.ID,
			Description: p.Description,
			Enabled:     p.Enabled,
			Scope:       Scope{Excludes: append([]string(nil), p.Scope.Excludes...)},
		}

		for _, d := range p.Descriptors {
			d = d.clone()
			if d.Pack == "" {
				d.Pack = p.ID
			}
			if reason := r.validate(p.ID, d); reason != "" {
				mErr := &MalformedDescriptorError{Pack: p.ID, ID: d.ID, Source: d.Source, Reason: reason}
				logger.G(ctx).WithFields(logrus.Fields{
					logger.FieldPack:  p.ID,
					logger.FieldSkill: d.ID,
				}).Warn(mErr.Error())
				result = multierror.Append(result, mErr)
				continue
			}
			if d.Name == "" {
				_, d.Name, _ = SplitID(d.ID)
			}
			d.Order = len(r.descriptors)
			r.byID[d.ID] = len(r.descriptors)
			r.descriptors = append(r.descriptors, d)
			kept.Descriptors = append(kept.Descriptors, d)
		}

		r.packs = append(r.packs, kept)
		r.enabled[p.ID] = p.Enabled
	}

	logger.G(ctx).WithFields(logrus.Fields{
		"packs":       len(r.packs),
		"descriptors": len(r.descriptors),
	}).Debug("skill registry loaded")

	return r, result.ErrorOrNil()
}

func (r *Registry) validate(packID string, d Descriptor) string {
	if strings.TrimSpace(d.ID) == "" {
		return "missing identifier"
	}
	if _, _, ok := SplitID(d.ID); !ok {
		return "identifier must have the form pack/name"
	}
	if !strings.HasPrefix(d.ID, packID+"/") {
		return "identifier is not scoped to its pack " + packID
	}
	if d.Pack != packID {
		return "provenance pack " + d.Pack + " does not match " + packID
	}
	if _, dup := r.byID[d.ID]; dup {
		return "duplicate identifier"
	}
	if d.Weight <= 0 {
		return "weight must be positive"
	}
	if len(d.Rules) == 0 {
		return "no activation rules"
	}
	for _, rule := range d.Rules {
		if reason := validateRule(rule); reason != "" {
			return reason
		}
	}
	if d.Layer != LayerProcedural && d.Layer != LayerComposition {
		return "layer must be procedural or composition"
	}
	if d.Layer == LayerComposition && len(d.References) == 0 {
		return "recipe references no skills"
	}
	return ""
}

// Lookup returns the descriptor with the given identifier, enabled or not.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, errors.Wrapf(ErrNotFound, "lookup %q", id)
	}
	return r.descriptors[i], nil
}

// DescriptorsInEnabledPacks returns the descriptors of enabled packs in
// declaration order: pack order first, then order within the pack.
func (r *Registry) DescriptorsInEnabledPacks() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if r.enabled[d.Pack] {
			out = append(out, d)
		}
	}
	return out
}

// IsEnabled reports whether the pack is known and enabled.
func (r *Registry) IsEnabled(packID string) bool {
	return r.enabled[packID]
}

// Packs returns the loaded packs, including disabled ones, in declaration order.
func (r *Registry) Packs() []Pack {
	return append([]Pack(nil), r.packs...)
}

// Len returns the number of valid descriptors across all packs.
func (r *Registry) Len() int {
	return len(r.descriptors)
}
