package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"towerdefense.ai/internal/persistence/kvstore"
	persistlog "towerdefense.ai/internal/persistence/log"
	"towerdefense.ai/internal/persistence/snapshot"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/player"
	"towerdefense.ai/internal/sim/tuning"
	"towerdefense.ai/internal/transport/httpapi"
	"towerdefense.ai/internal/transport/observer"
	"towerdefense.ai/internal/transport/ws"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var (
		addr       = flag.String("addr", envString("TD_ADDR", ":8080"), "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", envString("TD_DATA_DIR", "./data"), "runtime data directory")
		dbPath     = flag.String("db", "", "state sqlite path (default: <data>/state.sqlite)")
		disableDB  = flag.Bool("disable_db", false, "disable the secondary index (commands, ticks, snapshot metadata)")
		restore    = flag.String("restore", "", "snapshot to load into an empty state store (\"latest\" picks the newest periodic snapshot)")

		archiveEvery = flag.Uint64("archive_every", 10000, "archive snapshots whose tick is a multiple of this (0 disables)")
		snapshotKeep = flag.Int("snapshot_keep", 48, "periodic snapshots kept on disk (0 keeps all)")

		autoRun   = flag.Duration("auto_run", 0, "inject a RUN command at this interval (0 disables)")
		cmdRate   = flag.Float64("ws_rate", 20, "per-session websocket command rate (per second, 0 disables)")
		submitTTL = flag.Duration("submit_timeout", 5*time.Second, "max wait for the runner per request")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	sp := strings.TrimSpace(*dbPath)
	if sp == "" {
		sp = filepath.Join(*dataDir, "state.sqlite")
	}
	store, err := kvstore.OpenSQLite(sp)
	if err != nil {
		logger.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	snapDir := filepath.Join(*dataDir, "snapshots")
	if r := strings.TrimSpace(*restore); r != "" {
		if err := restoreStore(store, r, snapDir, logger); err != nil {
			logger.Fatalf("restore: %v", err)
		}
	}

	eng, err := engine.New(tune, store, log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	mirror, err := openMirror(*dataDir, log.New(os.Stdout, "[mirror] ", log.LstdFlags))
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}

	boot := newBootID(time.Now())
	cmdDir := filepath.Join(*dataDir, "commands", boot)
	if _, err := writeBootSnapshot(cmdDir, boot, tune.ServerID, eng); err != nil {
		logger.Fatalf("boot snapshot: %v", err)
	}
	mirror.Enqueue(filepath.Join(cmdDir, BootSnapshotName))
	logger.Printf("boot=%s tick=%d digest=%s", boot, eng.Tick(), eng.Digest())

	idx, err := openRuntimeIndex(*dataDir, tune.ServerID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	cmdLog := persistlog.NewCommandLogger(cmdDir)
	cmdLog.OnClosed(mirror.Enqueue)
	tickLog := persistlog.NewTickLogger(filepath.Join(*dataDir, "ticks"))

	var runKey [4]uint64
	if auth := tune.Authority(); auth != ([2]uint64{}) {
		runKey = player.Key(auth)
	}
	runner := engine.NewRunner(eng, engine.RunnerConfig{AutoRun: *autoRun, RunKey: runKey})
	loggers := multiCommandLogger{cmdLog}
	if idx != nil {
		loggers = append(loggers, idx)
	}
	runner.SetCommandLogger(loggers)
	runner.AddObserver(tickObserver(tickLog, idx))
	runner.AddObserver(httpapi.MetricsObserver(runner))

	hub := ws.NewHub()
	runner.AddObserver(hub.Observer())

	var obsSrv *observer.Server
	if envBool("TD_ENABLE_OBSERVER", defaultEnableAdminHTTP()) {
		obsSrv = observer.NewServer(runner, log.New(os.Stdout, "[observer] ", log.LstdFlags))
		runner.AddObserver(obsSrv.Observer())
	}

	ctx, cancel := signalContext()
	defer cancel()

	snapCh := make(chan engine.SnapshotJob, 2)
	runner.SetSnapshotSink(snapCh)
	sw := &snapshotWriter{
		dataDir:      *dataDir,
		dir:          snapDir,
		boot:         boot,
		serverID:     tune.ServerID,
		archiveEvery: *archiveEvery,
		keep:         *snapshotKeep,
		idx:          idx,
		mirror:       mirror,
		logger:       log.New(os.Stdout, "[snapshot] ", log.LstdFlags),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sw.run(ctx, snapCh)
	}()
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("runner stopped: %v", err)
		}
	}()

	var origins []string
	if v := strings.TrimSpace(os.Getenv("TD_CORS_ORIGINS")); v != "" {
		origins = strings.Split(v, ",")
	}
	router := httpapi.NewRouter(httpapi.Config{
		Runner: runner,
		WS: ws.NewServer(runner, hub, ws.Config{
			CommandsPerSecond: *cmdRate,
			SubmitTimeout:     *submitTTL,
		}, log.New(os.Stdout, "[ws] ", log.LstdFlags)).Handler(),
		Observer:      obsSrv,
		CORSOrigins:   origins,
		AdminToken:    strings.TrimSpace(os.Getenv("TD_ADMIN_TOKEN")),
		SubmitTimeout: *submitTTL,
		Logger:        logger,
	})
	if envBool("TD_ENABLE_PPROF_HTTP", false) {
		mountPprof(router)
	} else {
		logger.Printf("pprof endpoints disabled (TD_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	wg.Wait()

	// The command log closes first so its last segment still reaches the mirror.
	_ = cmdLog.Close()
	_ = tickLog.Close()
	mirror.Close()
	if idx != nil {
		_ = idx.Close()
	}
	if st := mirror.Stats(); st.EnqueuedTotal > 0 {
		logger.Printf("mirror uploaded=%d failed=%d dropped=%d", st.UploadSuccessTotal, st.UploadFailTotal, st.DroppedTotal)
	}
	if n := eng.PendingSettlement(); n > 0 {
		logger.Printf("%d settlement records stay queued in the store", n)
	}
	logger.Printf("stopped at tick=%d seq=%d", eng.Tick(), runner.Seq())
}

// restoreStore loads a snapshot into an empty store.
func restoreStore(store *kvstore.SQLite, path, snapDir string, logger *log.Logger) error {
	keys, err := store.Keys()
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		logger.Printf("restore skipped: state store already has %d entries", len(keys))
		return nil
	}
	if path == "latest" {
		if path, err = snapshot.Latest(snapDir); err != nil {
			return err
		}
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	if err := snap.Restore(store); err != nil {
		return err
	}
	logger.Printf("restored %s tick=%d entries=%d", filepath.Base(path), snap.Header.Tick, snap.Header.Entries)
	return nil
}

func mountPprof(r chi.Router) {
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
