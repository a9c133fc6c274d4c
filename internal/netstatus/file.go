package netstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSource reads the status from a JSON file maintained by the host
// platform and re-reads it whenever the file changes. A missing file means
// offline.
//
// File format:
//
//	{"online": true, "connectionType": "4g", "downlink": 10.5, "rttMs": 80, "saveData": false}
type FileSource struct {
	Path   string
	Logger *slog.Logger
}

type statusFile struct {
	Online         bool    `json:"online"`
	ConnectionType string  `json:"connectionType"`
	Downlink       float64 `json:"downlink"`
	RTTMs          int64   `json:"rttMs"`
	SaveData       bool    `json:"saveData"`
}

// Watch implements Source. The parent directory is watched rather than the
// file so atomic rename-over writes are seen.
func (s *FileSource) Watch(ctx context.Context, update func(Status)) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("netstatus: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("netstatus: watching %s: %w", dir, err)
	}

	s.reload(update, logger)

	name := filepath.Clean(s.Path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != name {
				continue
			}

			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
				ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.reload(update, logger)
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("status file watch error", slog.String("error", werr.Error()))
		}
	}
}

func (s *FileSource) reload(update func(Status), logger *slog.Logger) {
	st, err := ReadStatusFile(s.Path)
	if err != nil {
		// A half-written file is replaced by the next write event.
		logger.Warn("unreadable status file",
			slog.String("path", s.Path),
			slog.String("error", err.Error()),
		)

		return
	}

	update(st)
}

// Probe implements Prober.
func (s *FileSource) Probe(context.Context) (Status, error) {
	return ReadStatusFile(s.Path)
}

// ReadStatusFile parses a status file. A missing file yields an offline
// status and no error.
func ReadStatusFile(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Status{Online: false}, nil
	}

	if err != nil {
		return Status{}, fmt.Errorf("netstatus: reading %s: %w", path, err)
	}

	var f statusFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Status{}, fmt.Errorf("netstatus: parsing %s: %w", path, err)
	}

	return Status{
		Online:         f.Online,
		ConnectionType: f.ConnectionType,
		Downlink:       f.Downlink,
		RTT:            time.Duration(f.RTTMs) * time.Millisecond,
		SaveData:       f.SaveData,
	}, nil
}

// WriteStatusFile atomically writes st to path. Used by the CLI to simulate
// connectivity changes and by tests.
func WriteStatusFile(path string, st Status) error {
	data, err := json.Marshal(statusFile{
		Online:         st.Online,
		ConnectionType: st.ConnectionType,
		Downlink:       st.Downlink,
		RTTMs:          st.RTT.Milliseconds(),
		SaveData:       st.SaveData,
	})
	if err != nil {
		return fmt.Errorf("netstatus: encoding status: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("netstatus: writing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("netstatus: renaming %s: %w", tmp, err)
	}

	return nil
}
