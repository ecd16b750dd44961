package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/plugins"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/session"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/pkg/errors"
)

func newDiscovery() (*plugins.Discovery, error) {
	d, err := plugins.NewDiscovery(cfg.DiscoveryOptions()...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up pack discovery")
	}
	return d, nil
}

// loadRegistry builds the catalog. Malformed descriptors are reported and
// skipped; the catalog is still usable.
func loadRegistry(ctx context.Context) (*skills.Registry, *plugins.Discovery, error) {
	d, err := newDiscovery()
	if err != nil {
		return nil, nil, err
	}
	reg, err := d.LoadRegistry(ctx)
	reportLoadErrors(err)
	return reg, d, nil
}

func reportLoadErrors(err error) {
	if err == nil {
		return
	}
	if !skills.IsMalformed(err) {
		presenter.Warning(err.Error())
		return
	}
	for _, md := range skills.MalformedDescriptors(err) {
		presenter.Warning(md.Error())
	}
}

// sessionSetup carries everything needed to start sessions from config.
type sessionSetup struct {
	config session.Config
	opts   []session.Option
	sink   audit.Sink
}

func newSessionSetup(ctx context.Context) (*sessionSetup, error) {
	identity, overhead, err := cfg.Identity()
	if err != nil {
		return nil, err
	}

	sink, err := audit.New(ctx, cfg.Audit.Driver, cfg.Audit.Path)
	if err != nil {
		return nil, err
	}

	return &sessionSetup{
		config: cfg.Session(overhead),
		sink:   sink,
		opts: []session.Option{
			session.WithAuditSink(sink),
			session.WithMatcher(cfg.Matcher()),
			session.WithIdentity(identity),
		},
	}, nil
}

func (s *sessionSetup) Close() error {
	if c, ok := s.sink.(audit.Closer); ok {
		return c.Close()
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
