package mode

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TransitionRecord is an accepted transition.
type TransitionRecord struct {
	From   Mode      `json:"from"`
	To     Mode      `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Transition validates a requested mode change. Any mode may move to any
// other, but only with an explicit reason. It returns the resulting mode.
func Transition(from, to Mode, reason string) (Mode, error) {
	if !to.Valid() {
		return from, &TransitionError{From: from, To: to, Reason: reason, Err: errors.Wrapf(ErrUnknownMode, "%q", to)}
	}
	if strings.TrimSpace(reason) == "" {
		return from, &TransitionError{From: from, To: to, Reason: reason, Err: ErrModeBleed}
	}
	return to, nil
}

// Machine holds one session's mode. It starts in Explore.
type Machine struct {
	mu        sync.Mutex
	sessionID string
	current   Mode
	history   []TransitionRecord
	sink      audit.Sink
	now       func() time.Time
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithSessionID tags audit entries with the owning session.
func WithSessionID(id string) MachineOption {
	return func(m *Machine) { m.sessionID = id }
}

// WithAuditSink sets where accepted transitions are recorded.
func WithAuditSink(sink audit.Sink) MachineOption {
	return func(m *Machine) { m.sink = sink }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// NewMachine returns a machine in Explore mode.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		current: Explore,
		sink:    audit.LogSink{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the current mode.
func (m *Machine) Current() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Authorize checks action against the current mode without changing it.
func (m *Machine) Authorize(action Action) Authorization {
	return Authorize(m.Current(), action)
}

// Transition moves the machine to another mode. On error the mode is unchanged.
// Moving to the current mode is accepted and recorded like any other transition.
func (m *Machine) Transition(ctx context.Context, to Mode, reason string) (TransitionRecord, error) {
	m.mu.Lock()
	from := m.current
	if _, err := Transition(from, to, reason); err != nil {
		m.mu.Unlock()
		logger.G(ctx).WithError(err).WithFields(logrus.Fields{
			"from": from,
			"to":   to,
		}).Warn("rejected mode transition")
		return TransitionRecord{}, err
	}

	rec := TransitionRecord{From: from, To: to, Reason: strings.TrimSpace(reason), At: m.now()}
	m.current = to
	m.history = append(m.history, rec)
	sink := m.sink
	m.mu.Unlock()

	if from == to {
		logger.G(ctx).WithField(logger.FieldMode, to).Debug("self transition")
	}

	if sink != nil {
		entry := audit.Entry{
			SessionID: m.sessionID,
			From:      string(rec.From),
			To:        string(rec.To),
			Reason:    rec.Reason,
			Timestamp: rec.At,
		}
		if err := sink.Record(ctx, entry); err != nil {
			logger.G(ctx).WithError(err).Error("failed to record mode transition")
		}
	}

	return rec, nil
}

// History returns the accepted transitions in order.
func (m *Machine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransitionRecord(nil), m.history...)
}
