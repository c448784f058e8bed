package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/agentworkforce/orderdesk/internal/orderdesk"
)

const archiveDirName = "processed"

// Mailbox reads inbound emails from a drop directory of JSON files and
// moves finished ones into a processed subdirectory. One file per
// email; files are consumed in name order so runs are reproducible.
type Mailbox struct {
	dir        string
	archiveDir string
	logger     *zap.Logger

	// email id -> source file path, rebuilt on every Load.
	files map[string]string
}

type MailboxOptions struct {
	Dir    string
	Logger *zap.Logger
}

func NewMailbox(opts MailboxOptions) (*Mailbox, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, orderdesk.ErrInvalidInput
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	archiveDir := filepath.Join(dir, archiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Mailbox{
		dir:        dir,
		archiveDir: archiveDir,
		logger:     opts.Logger,
		files:      map[string]string{},
	}, nil
}

// Load reads every *.json file in the drop directory. Malformed files
// are skipped with a warning; they stay in place for inspection.
func (m *Mailbox) Load(ctx context.Context) ([]orderdesk.Email, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read mailbox dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	m.files = map[string]string{}
	var emails []orderdesk.Email
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(m.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("unreadable email file", zap.String("file", name), zap.Error(err))
			continue
		}
		var email orderdesk.Email
		if err := json.Unmarshal(raw, &email); err != nil {
			m.logger.Warn("malformed email file", zap.String("file", name), zap.Error(err))
			continue
		}
		if email.ID == "" {
			m.logger.Warn("email file missing id", zap.String("file", name))
			continue
		}
		m.files[email.ID] = path
		emails = append(emails, email)
	}
	return emails, nil
}

// Archive moves a processed email's file into the processed
// subdirectory.
func (m *Mailbox) Archive(ctx context.Context, emailID string) error {
	path, ok := m.files[emailID]
	if !ok {
		return fmt.Errorf("email %s: %w", emailID, orderdesk.ErrNotFound)
	}
	target := filepath.Join(m.archiveDir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("archive %s: %w", emailID, err)
	}
	delete(m.files, emailID)
	return nil
}

// Pending returns how many loaded emails have not been archived yet.
func (m *Mailbox) Pending() int {
	return len(m.files)
}
