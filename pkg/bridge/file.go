package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/enhancer/pkg/db"
	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

const (
	providersFile = "providers.json"
	outboxFile    = "outbox.jsonl"

	// RequestGetProviders asks the host to re-send its provider list.
	RequestGetProviders = "get_providers"

	defaultDebounce = 100 * time.Millisecond
)

// Request is one line of the outbox the host consumes.
type Request struct {
	Type        string    `json:"type"`
	RequestedAt time.Time `json:"requested_at"`
}

// FileBridge talks to an IDE host through a shared directory: the host writes
// providers.json, enhancer watches it and appends requests to outbox.jsonl.
// Both files are accessed under file locks.
type FileBridge struct {
	*Emitter

	dir      string
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// DefaultDir is the bridge directory under enhancer's base path.
func DefaultDir() (string, error) {
	base, err := db.BasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "bridge"), nil
}

// NewFileBridge prepares dir for use as a bridge directory.
func NewFileBridge(dir string) (*FileBridge, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create bridge directory")
	}
	b := &FileBridge{dir: dir, debounce: defaultDebounce}
	b.Emitter = NewEmitter(b.appendRequest)
	return b, nil
}

// ProvidersPath is where the host writes its provider list.
func (b *FileBridge) ProvidersPath() string {
	return filepath.Join(b.dir, providersFile)
}

// OutboxPath is where enhancer appends requests for the host.
func (b *FileBridge) OutboxPath() string {
	return filepath.Join(b.dir, outboxFile)
}

func (b *FileBridge) appendRequest(ctx context.Context) error {
	line, err := json.Marshal(Request{Type: RequestGetProviders, RequestedAt: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "failed to marshal bridge request")
	}

	err = lockedfile.Transform(b.OutboxPath(), func(data []byte) ([]byte, error) {
		out := make([]byte, 0, len(data)+len(line)+1)
		out = append(out, data...)
		out = append(out, line...)
		return append(out, '\n'), nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to append bridge request")
	}

	logger.G(ctx).WithField("outbox", b.OutboxPath()).Debug("requested providers from host")
	return nil
}

// Requests reads the pending outbox, oldest first.
func (b *FileBridge) Requests() ([]Request, error) {
	data, err := lockedfile.Read(b.OutboxPath())
	if os.IsNotExist(err) {
		return []Request{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read bridge outbox")
	}

	requests := []Request{}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, errors.Wrap(err, "failed to parse bridge request")
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// Push writes providers as the host would. Subscribers hear about it through
// the watcher, not synchronously.
func (b *FileBridge) Push(providers []provider.Provider) error {
	if err := provider.Validate(providers); err != nil {
		return err
	}
	data, err := json.MarshalIndent(providers, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal providers")
	}
	if err := lockedfile.Write(b.ProvidersPath(), bytes.NewReader(data), 0o644); err != nil {
		return errors.Wrap(err, "failed to write providers file")
	}
	return nil
}

// Load reads the host's current provider list. The boolean is false when the
// host has not written one yet. Invalid entries are skipped with a warning.
func (b *FileBridge) Load(ctx context.Context) ([]provider.Provider, bool, error) {
	data, err := lockedfile.Read(b.ProvidersPath())
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read providers file")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, nil
	}
	providers, err := provider.ParseLenient(ctx, data)
	if err != nil {
		return nil, false, err
	}
	return providers, true, nil
}

// Start begins watching the bridge directory. It returns once the watch is in
// place; pushes are published from a background goroutine until ctx ends or
// Close is called.
func (b *FileBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watcher != nil {
		return errors.New("file bridge already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create bridge watcher")
	}
	// watch the directory, not the file, so replace-by-rename writes are seen
	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return errors.Wrap(err, "failed to watch bridge directory")
	}

	b.watcher = watcher
	b.done = make(chan struct{})
	go b.loop(ctx, watcher, b.done)
	return nil
}

// Close stops the watcher started by Start.
func (b *FileBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watcher == nil {
		return nil
	}
	err := b.watcher.Close()
	<-b.done
	b.watcher = nil
	return err
}

func (b *FileBridge) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	log := logger.G(ctx).WithField("bridge_dir", b.dir)
	target := filepath.Clean(b.ProvidersPath())

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(b.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			providers, ok, err := b.Load(ctx)
			if err != nil {
				log.WithError(err).Warn("ignoring unreadable provider push")
				continue
			}
			if !ok {
				continue
			}
			log.WithField("providers", len(providers)).Debug("host pushed providers")
			b.Publish(providers)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("bridge watcher error")
		}
	}
}
