package skills

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Lookup for an unknown identifier.
var ErrNotFound = errors.New("skill not found")

// MalformedDescriptorError reports a descriptor excluded at catalog build time.
type MalformedDescriptorError struct {
	Pack   string
	ID     string
	Source string
	Reason string
}

func (e *MalformedDescriptorError) Error() string {
	id := e.ID
	if id == "" {
		id = "<missing id>"
	}
	if e.Source != "" {
		return fmt.Sprintf("malformed descriptor %s in pack %s (%s): %s", id, e.Pack, e.Source, e.Reason)
	}
	return fmt.Sprintf("malformed descriptor %s in pack %s: %s", id, e.Pack, e.Reason)
}

// IsMalformed reports whether err is, or aggregates only, malformed descriptor errors.
func IsMalformed(err error) bool {
	if err == nil {
		return false
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		if len(merr.Errors) == 0 {
			return false
		}
		for _, e := range merr.Errors {
			if !IsMalformed(e) {
				return false
			}
		}
		return true
	}
	var md *MalformedDescriptorError
	return errors.As(err, &md)
}

// MalformedDescriptors flattens err into the malformed descriptor errors it carries.
func MalformedDescriptors(err error) []*MalformedDescriptorError {
	if err == nil {
		return nil
	}
	var out []*MalformedDescriptorError
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			out = append(out, MalformedDescriptors(e)...)
		}
		return out
	}
	var md *MalformedDescriptorError
	if errors.As(err, &md) {
		out = append(out, md)
	}
	return out
}
