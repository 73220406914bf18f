package adapters

import (
	"context"
	"encoding/json"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/infrastructure/storage"
)

const (
	spoolInbox     = "inbox"
	spoolOutbox    = "outbox"
	spoolProcessed = "processed"

	defaultFilePollInterval = 10 * time.Second
)

// FileAdapter exchanges packets through a spool: inbound files appear in
// inbox/, outbound sends land in outbox/, and consumed files move to
// processed/ (or are deleted with "keep_processed" false). The spool is a
// local directory named by the "path" param, or an S3-compatible bucket when
// "bucket" is set. Directory spools are watched with fsnotify by default;
// bucket spools and "watch" false fall back to polling.
//
// A file is claimed by moving it out of the inbox before dispatch, so a
// subscriber failure does not re-deliver it.
//
// Registered for the "file_system" system type.
type FileAdapter struct {
	*BaseAdapter

	spool storage.Spool
	dir   *storage.DirSpool

	watch         bool
	pollInterval  time.Duration
	keepProcessed bool
	pattern       string

	runMu   sync.Mutex
	stopCh  chan struct{}
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewFileAdapter creates a file-drop adapter from its config. Recognized
// connection params: "path" or "bucket" (one is required), "endpoint",
// "region", "use_ssl", "path_style" (bucket mode), "watch" (bool),
// "poll_interval" (duration), "keep_processed" (bool), "pattern" (glob on
// inbox file names). Bucket credentials come from the auth params
// "access_key" and "secret_key".
func NewFileAdapter(cfg *integration.IntegrationConfig, logger *zap.Logger) (*FileAdapter, error) {
	a := &FileAdapter{
		BaseAdapter:   NewBaseAdapter(cfg, logger),
		pollInterval:  cfg.DurationParam("poll_interval", defaultFilePollInterval),
		keepProcessed: cfg.BoolParam("keep_processed", true),
		pattern:       cfg.StringParam("pattern", ""),
	}

	bucket := cfg.StringParam("bucket", "")
	root := cfg.StringParam("path", "")
	switch {
	case bucket != "":
		spool, err := storage.NewS3Spool(storage.S3SpoolConfig{
			Bucket:       bucket,
			Endpoint:     cfg.StringParam("endpoint", ""),
			Region:       cfg.StringParam("region", ""),
			AccessKey:    authString(cfg, "access_key"),
			SecretKey:    authString(cfg, "secret_key"),
			UseSSL:       cfg.BoolParam("use_ssl", false),
			UsePathStyle: cfg.BoolParam("path_style", true),
		}, storage.WithS3Logger(a.logger))
		if err != nil {
			return nil, integration.NewConfigurationError(cfg.ID, "file adapter: building bucket spool", err)
		}
		a.spool = spool
	case root != "":
		spool, err := storage.NewDirSpool(root)
		if err != nil {
			return nil, integration.NewConfigurationError(cfg.ID, "file adapter: building directory spool", err)
		}
		a.spool = spool
		a.dir = spool
		a.watch = cfg.BoolParam("watch", true)
	default:
		return nil, integration.NewConfigurationError(cfg.ID, "file adapter: a path or bucket parameter is required", nil)
	}

	return a, nil
}

// Initialize implements integration.Adapter.
func (a *FileAdapter) Initialize(ctx context.Context) error {
	if a.dir != nil {
		if err := a.dir.EnsureDirs(spoolInbox, spoolOutbox, spoolProcessed); err != nil {
			return integration.NewConfigurationError(a.ID(), "file adapter: preparing spool layout", err)
		}
	}
	a.setService(integration.ServiceStatusReady)
	return nil
}

// Start implements integration.Adapter.
func (a *FileAdapter) Start(ctx context.Context) error {
	a.setService(integration.ServiceStatusRunning)
	return nil
}

// Stop implements integration.Adapter.
func (a *FileAdapter) Stop(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	a.setService(integration.ServiceStatusOffline)
	return nil
}

// Connect implements integration.Adapter. It verifies the spool is
// reachable and starts the inbound watcher or poller.
func (a *FileAdapter) Connect(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if s3, ok := a.spool.(*storage.S3Spool); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			return integration.NewConnectionError(a.ID(), "file adapter: preparing bucket", err)
		}
	} else if err := a.spool.Ping(ctx); err != nil {
		return integration.NewConnectionError(a.ID(), "file adapter: spool unreachable", err)
	}

	stop := make(chan struct{})
	a.stopCh = stop

	if a.watch && a.dir != nil {
		watcher, err := fsnotify.NewWatcher()
		if err == nil {
			err = watcher.Add(a.dir.Dir(spoolInbox))
		}
		if err != nil {
			a.stopCh = nil
			return integration.NewConnectionError(a.ID(), "file adapter: watching inbox", err)
		}
		a.watcher = watcher

		a.wg.Add(2)
		go a.runWatcher(stop, watcher)
		go func() {
			defer a.wg.Done()
			a.drainInbox(context.Background())
		}()
	} else {
		a.wg.Add(1)
		go a.runPoller(stop)
	}

	a.setConnection(integration.ConnectionStatusConnected)
	return nil
}

// Disconnect implements integration.Adapter.
func (a *FileAdapter) Disconnect(ctx context.Context) error {
	a.runMu.Lock()
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	if a.watcher != nil {
		a.watcher.Close()
		a.watcher = nil
	}
	a.runMu.Unlock()

	a.wg.Wait()
	a.setConnection(integration.ConnectionStatusDisconnected)
	return nil
}

// Reconnect implements integration.Adapter.
func (a *FileAdapter) Reconnect(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	return a.Connect(ctx)
}

// TestConnection implements integration.Adapter.
func (a *FileAdapter) TestConnection(ctx context.Context) (bool, error) {
	if err := a.spool.Ping(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Latency implements integration.Adapter by timing a spool probe.
func (a *FileAdapter) Latency(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.spool.Ping(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Health implements integration.Adapter.
func (a *FileAdapter) Health(ctx context.Context) (integration.ServiceHealth, error) {
	mode := "directory"
	if a.dir == nil {
		mode = "s3"
	}
	details := map[string]any{"mode": mode}
	if keys, err := a.spool.List(ctx, spoolInbox); err == nil {
		details["inbox_pending"] = len(keys)
	}
	return a.health(details), nil
}

// Send implements integration.Adapter by writing the packet envelope to the
// outbox.
func (a *FileAdapter) Send(ctx context.Context, packet *integration.DataPacket, opts integration.SendOptions) error {
	if !a.connected() {
		return integration.NewConnectionError(a.ID(), "file adapter is not connected", nil)
	}

	out := a.outbound(packet, opts)
	body, err := json.Marshal(out)
	if err != nil {
		return integration.NewValidationError(a.ID(), "file adapter: encoding packet", err)
	}

	if timeout := a.sendTimeout(opts, 0); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	key := spoolOutbox + "/" + out.ID + ".json"
	if err := a.spool.Write(ctx, key, body); err != nil {
		a.noteError(err)
		return integration.NewCommunicationError(a.ID(), "file adapter: writing outbox entry", err)
	}
	a.markSent()
	return nil
}

func (a *FileAdapter) runWatcher(stop <-chan struct{}, watcher *fsnotify.Watcher) {
	defer a.wg.Done()

	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				a.consume(context.Background(), spoolInbox+"/"+filepath.Base(event.Name))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.noteError(err)
			a.logger.Warn("inbox watch error", zap.Error(err))
		}
	}
}

func (a *FileAdapter) runPoller(stop <-chan struct{}) {
	defer a.wg.Done()

	a.drainInbox(context.Background())
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.drainInbox(context.Background())
		}
	}
}

func (a *FileAdapter) drainInbox(ctx context.Context) {
	keys, err := a.spool.List(ctx, spoolInbox)
	if err != nil {
		a.noteError(err)
		a.logger.Warn("listing inbox failed", zap.Error(err))
		return
	}
	for _, key := range keys {
		a.consume(ctx, key)
	}
}

// consume claims one inbox entry and delivers it to subscribers. The claim
// (move or delete) happens first; if it fails another drain got there.
func (a *FileAdapter) consume(ctx context.Context, key string) {
	name := path.Base(key)
	if strings.HasSuffix(name, ".tmp") {
		return
	}
	if a.pattern != "" {
		if ok, _ := path.Match(a.pattern, name); !ok {
			return
		}
	}

	data, err := a.spool.Read(ctx, key)
	if err != nil {
		a.logger.Debug("inbox entry vanished before read", zap.String("key", key), zap.Error(err))
		return
	}

	if a.keepProcessed {
		err = a.spool.Move(ctx, key, spoolProcessed+"/"+name)
	} else {
		err = a.spool.Remove(ctx, key)
	}
	if err != nil {
		a.logger.Debug("inbox entry already claimed", zap.String("key", key), zap.Error(err))
		return
	}

	packet := inboundPacket(a.ID(), data)
	packet.Metadata["file"] = name
	a.dispatch(ctx, packet)
}

func authString(cfg *integration.IntegrationConfig, key string) string {
	if v, ok := cfg.AuthParams[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

var _ integration.Adapter = (*FileAdapter)(nil)
