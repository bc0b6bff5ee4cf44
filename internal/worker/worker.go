// Package worker assembles and runs the long-lived memory process. It owns
// startup order (store before queue before pipeline before listener),
// the pid and token files, and the graceful shutdown sequence.
package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"kiromemory/internal/backup"
	"kiromemory/internal/config"
	"kiromemory/internal/embedding"
	"kiromemory/internal/httpapi"
	"kiromemory/internal/ingest"
	"kiromemory/internal/logging"
	"kiromemory/internal/metrics"
	"kiromemory/internal/plugin"
	"kiromemory/internal/report"
	"kiromemory/internal/scheduler"
	"kiromemory/internal/search"
	"kiromemory/internal/session"
	"kiromemory/internal/sse"
	"kiromemory/internal/store"
	"kiromemory/internal/summary"
	"kiromemory/internal/version"
)

const (
	// drainTimeout bounds graceful HTTP shutdown and plugin teardown.
	drainTimeout = 5 * time.Second

	maxConnections    = 256
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// Worker is the assembled process. Build one with New, start it with Start
// or drive the whole lifecycle with Run. A Worker is single-use: once
// stopped it cannot be started again.
type Worker struct {
	cfg *config.Config
	log *zap.SugaredLogger

	store   *store.Store
	queue   *ingest.EmbedQueue
	hub     *sse.Hub
	host    *plugin.Host
	sched   *scheduler.Scheduler
	httpSrv *http.Server

	pidLock *flock.Flock
	token   string
	addr    string

	// baseCtx scopes background work (plugin watcher, backfill) to the
	// worker's lifetime.
	baseCtx  context.Context
	baseStop context.CancelFunc
	bg       sync.WaitGroup

	serveErr chan error

	stopOnce sync.Once
	stopErr  error
}

// New builds an unstarted worker around cfg.
func New(cfg *config.Config) *Worker {
	return &Worker{
		cfg: cfg,
		log: logging.Get(logging.CategoryWorker),
	}
}

// Addr reports the bound listen address once Start has returned. With a
// configured port of 0 this is where the ephemeral port shows up.
func (w *Worker) Addr() string { return w.addr }

// Token reports the admin token written for this run.
func (w *Worker) Token() string { return w.token }

// Run starts the worker, blocks until ctx is canceled or the HTTP server
// fails, then shuts everything down. The returned error is nil only for a
// clean start and a clean drain.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		w.log.Infow("shutdown requested")
	case err := <-w.serveErr:
		w.log.Errorw("http server failed", "error", err)
		stopErr := w.Stop()
		if stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}
	return w.Stop()
}

// Start brings up every component and begins serving. On failure it releases
// whatever was already acquired and the worker is dead.
func (w *Worker) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = w.Stop()
		}
	}()

	if err := w.prepareDirs(); err != nil {
		return err
	}
	if err := w.acquirePID(); err != nil {
		return err
	}
	if err := w.writeToken(); err != nil {
		return err
	}

	w.baseCtx, w.baseStop = context.WithCancel(context.Background())

	st, err := store.Open(w.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	w.store = st

	engine, err := embedding.NewEngine(embedding.Config{
		Provider: w.cfg.Embedding.Provider,
		Model:    w.cfg.Embedding.Model,
		BaseURL:  w.cfg.Embedding.BaseURL,
		APIKey:   w.cfg.Embedding.APIKey,
	})
	if err != nil {
		w.log.Warnw("embedding engine unavailable, continuing without vectors", "error", err)
		engine = nil
	}

	m := metrics.New()
	w.hub = sse.NewHub()

	w.host = plugin.NewHost(&plugin.API{
		Store: st,
		Log:   logging.Get(logging.CategoryPlugin),
	}, m)
	registered := w.host.Discover(plugin.DiscoverOptions{
		Builtins: plugin.Builtins(),
		Entries:  w.cfg.Plugins,
		UserDir:  w.cfg.PluginDir(),
		DepRoot:  w.cfg.DataDir,
	})
	if err := w.host.InitAll(ctx); err != nil {
		w.log.Warnw("some plugins failed to initialize", "error", err)
	}
	if err := w.host.Watch(w.baseCtx, w.cfg.PluginDir()); err != nil {
		w.log.Warnw("plugin watcher unavailable", "error", err)
	}

	w.queue = ingest.NewEmbedQueue(st, engine, m)
	w.queue.Start()

	pipeline := ingest.NewPipeline(ingest.Deps{
		Store:   st,
		Queue:   w.queue,
		Hub:     w.hub,
		Hooks:   w.host,
		Metrics: m,
	})
	sessions := session.New(st, summary.NewGenerator(w.cfg.Summary))
	searcher := search.New(st, engine)
	backups := backup.NewManager(st, w.cfg.BackupDir(), w.cfg.Backup.MaxKeep)
	w.sched = scheduler.New(st, backups, w.cfg)
	w.sched.Start()
	reports := report.New(st)

	w.reconcileEmbeddings(ctx, engine)

	srv := httpapi.NewServer(httpapi.Deps{
		Config:    w.cfg,
		Store:     st,
		Pipeline:  pipeline,
		Queue:     w.queue,
		Searcher:  searcher,
		Sessions:  sessions,
		Hub:       w.hub,
		Plugins:   w.host,
		Scheduler: w.sched,
		Backups:   backups,
		Reports:   reports,
		Metrics:   m,
		Token:     w.token,
	})

	ln, err := net.Listen("tcp", w.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", w.cfg.ListenAddr(), err)
	}
	ln = netutil.LimitListener(ln, maxConnections)
	w.addr = ln.Addr().String()

	w.httpSrv = &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	w.serveErr = make(chan error, 1)
	go func() {
		if serveErr := w.httpSrv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			w.serveErr <- serveErr
		}
	}()

	w.log.Infow("worker started",
		"version", version.Version,
		"addr", w.addr,
		"database", w.cfg.DatabasePath(),
		"embedding", providerName(engine),
		"plugins", registered,
	)
	return nil
}

// Stop tears the worker down in reverse dependency order: event hub first so
// streaming handlers return, then the HTTP drain, then the periodic jobs,
// plugins, queue and store. Runtime files are removed last. Safe to call
// more than once; later calls return the first result.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() { w.stopErr = w.shutdown() })
	return w.stopErr
}

func (w *Worker) shutdown() error {
	var forced bool

	if w.baseStop != nil {
		w.baseStop()
	}
	if w.hub != nil {
		w.hub.Close()
	}
	if w.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := w.httpSrv.Shutdown(ctx); err != nil {
			forced = true
			_ = w.httpSrv.Close()
			w.log.Warnw("drain timeout exceeded, connections closed", "error", err)
		}
		cancel()
	}
	if w.sched != nil {
		w.sched.Stop()
	}
	if w.host != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		w.host.DestroyAll(ctx)
		cancel()
	}
	w.bg.Wait()
	if w.queue != nil {
		w.queue.Stop()
	}
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.log.Warnw("closing store", "error", err)
		}
	}
	w.removeRuntimeFiles()

	if forced {
		return errors.New("shutdown forced after drain timeout")
	}
	w.log.Infow("worker stopped")
	return nil
}

func (w *Worker) prepareDirs() error {
	if err := os.MkdirAll(w.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	for _, dir := range []string{w.cfg.LogDir(), w.cfg.BackupDir(), w.cfg.PluginDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// acquirePID takes an exclusive lock on the pid file so a second worker on
// the same data dir refuses to start instead of corrupting the database.
func (w *Worker) acquirePID() error {
	lock := flock.New(w.cfg.PIDPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring pid lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another worker already holds %s", w.cfg.PIDPath())
	}
	w.pidLock = lock
	if err := os.WriteFile(w.cfg.PIDPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// writeToken mints a fresh admin token for this run. Local tools read it
// from disk; the 0600 mode keeps it to the owning user.
func (w *Worker) writeToken() error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generating worker token: %w", err)
	}
	w.token = hex.EncodeToString(buf)
	if err := os.WriteFile(w.cfg.TokenPath(), []byte(w.token), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// reconcileEmbeddings drops stored vectors that the configured engine cannot
// compare against (different model or dimensionality), then kicks a backfill
// so the affected observations are re-embedded. Runs only when an engine is
// configured.
func (w *Worker) reconcileEmbeddings(ctx context.Context, engine embedding.Engine) {
	if engine == nil {
		return
	}
	dropped, err := w.store.SweepEmbeddingDimension(ctx, engine.Name(), engine.Dimensions())
	if err != nil {
		w.log.Warnw("embedding sweep failed", "error", err)
		return
	}
	if dropped > 0 {
		w.log.Warnw("dropped embeddings from a different model or dimension",
			"dropped", dropped,
			"model", engine.Name(),
			"dimensions", engine.Dimensions(),
		)
	}
	w.bg.Add(1)
	go func() {
		defer w.bg.Done()
		n, err := w.queue.Backfill(w.baseCtx)
		if err != nil {
			w.log.Warnw("startup backfill incomplete", "embedded", n, "error", err)
			return
		}
		if n > 0 {
			w.log.Infow("startup backfill complete", "embedded", n)
		}
	}()
}

func (w *Worker) removeRuntimeFiles() {
	if w.token != "" {
		_ = os.Remove(w.cfg.TokenPath())
	}
	if w.pidLock != nil {
		_ = w.pidLock.Unlock()
		_ = os.Remove(w.cfg.PIDPath())
	}
}

func providerName(engine embedding.Engine) string {
	if engine == nil {
		return "none"
	}
	return engine.Name()
}
