package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// FileSink appends transitions as JSON lines. The file is locked for every
// write so concurrent processes can share one trail.
type FileSink struct {
	path string
}

// NewFileSink returns a FileSink writing to path, creating its directory.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("audit file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create audit directory")
	}
	return &FileSink{path: path}, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string {
	return s.path
}

// Record implements Sink.
func (s *FileSink) Record(_ context.Context, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	f, err := lockedfile.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open audit file")
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}
	return nil
}

// List implements Lister. Lines that fail to decode are skipped.
func (s *FileSink) List(ctx context.Context, sessionID string) ([]Entry, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return []Entry{}, nil
	}

	data, err := lockedfile.Read(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read audit file")
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			logger.G(ctx).WithError(err).Warn("skipping malformed audit line")
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan audit file")
	}

	return filterSession(entries, sessionID), nil
}
