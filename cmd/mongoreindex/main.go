// Command mongoreindex rebuilds MongoDB secondary indexes online via the
// Cover-Swap-Cleanup orchestrator, reconciles leftover temp indexes from
// an interrupted run, and optionally compacts storage afterwards.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/compaction"
	"github.com/mongoreindex/mongoreindex/internal/config"
	"github.com/mongoreindex/mongoreindex/internal/controller"
	"github.com/mongoreindex/mongoreindex/internal/driver"
	"github.com/mongoreindex/mongoreindex/internal/gateway"
	"github.com/mongoreindex/mongoreindex/internal/gateway/mongodb"
	"github.com/mongoreindex/mongoreindex/internal/metrics"
	"github.com/mongoreindex/mongoreindex/internal/middleware"
	"github.com/mongoreindex/mongoreindex/internal/orchestrator"
	"github.com/mongoreindex/mongoreindex/internal/processor"
	"github.com/mongoreindex/mongoreindex/internal/prompt"
	"github.com/mongoreindex/mongoreindex/internal/reconciler"
	"github.com/mongoreindex/mongoreindex/internal/router"
	"github.com/mongoreindex/mongoreindex/internal/runlog"
	"github.com/mongoreindex/mongoreindex/internal/statestore"
)

// version contains the version string set by -ldflags.
var version string

// args contains the command line arguments; exactly one subcommand must
// be selected.
type args struct {
	Rebuild *config.RebuildArgs `arg:"subcommand:rebuild" help:"rebuild secondary indexes on a database via Cover-Swap-Cleanup"`
	Cleanup *config.CleanupArgs `arg:"subcommand:cleanup" help:"reconcile leftover _cover_temp indexes from an interrupted run"`
	Compact *config.CompactArgs `arg:"subcommand:compact" help:"reclaim storage for previously rebuilt collections"`

	Port int `arg:"--port,env:PORT" placeholder:"PORT" help:"port for the optional status server (job status, health, metrics, pprof); <= 0 disables it" default:"0"`
}

// Version returns a version string based on how the binary was compiled,
// matching the teacher's -ldflags/build-info fallback.
func (args) Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && version == "" {
		version = info.Main.Version
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				version += "-" + s.Value
				break
			}
		}
	}
	return version
}

func main() {
	if err := run(); err != nil {
		log.Println(err)
		os.Exit(mongoreindex.ExitCodeFor(err))
	}
	log.Println("done")
}

func run() error {
	var a args
	p := arg.MustParse(&a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case a.Rebuild != nil:
		return runRebuild(ctx, a.Rebuild, a.Port)
	case a.Cleanup != nil:
		return runCleanup(ctx, a.Cleanup)
	case a.Compact != nil:
		return runCompact(ctx, a.Compact)
	default:
		p.Fail("missing subcommand: rebuild, cleanup, or compact")
		return nil
	}
}

// connect builds and opens a MongoDB gateway from a ConnectionConfig, then
// checks that the deployment meets the minimum version for online index
// builds (spec.md §4.2).
func connect(ctx context.Context, c config.ConnectionConfig) (*mongodb.Gateway, error) {
	gw, err := mongodb.New(&mongodb.Config{URI: c.URI, Database: c.Database, CallDeadline: c.CallDeadline})
	if err != nil {
		return nil, mongoreindex.NewError(mongoreindex.KindFatal, "connect", err)
	}
	if err := gw.Open(ctx); err != nil {
		return nil, mongoreindex.NewError(mongoreindex.KindFatal, "connect", err)
	}

	v, err := gw.ServerVersion(ctx)
	if err != nil {
		gw.Close(ctx)
		return nil, err
	}
	if !v.AtLeast(4, 4) {
		gw.Close(ctx)
		return nil, mongoreindex.NewPreconditionError("server_version",
			fmt.Errorf("online index builds require MongoDB >= 4.4, connected deployment is %d.%d.%d", v.Major, v.Minor, v.Patch))
	}
	return gw, nil
}

// promptFor returns the interactive stdin prompt when interactive is
// true, or an always-yes prompt otherwise (--no-safe-run mode never
// blocks on a human).
func promptFor(interactive bool) prompt.Prompt {
	if interactive {
		return prompt.NewStdin(os.Stdin, os.Stdout)
	}
	return prompt.AutoYes{}
}

// openLockedStore resolves the cluster name, builds a Store for
// (clusterName, database), and acquires the advisory single-writer lock.
// Callers must defer store.Unlock() once this returns successfully.
func openLockedStore(ctx context.Context, gw *mongodb.Gateway, runtimeDir, database string, staleThreshold time.Duration) (*statestore.Store, string, error) {
	clusterName, err := gw.ClusterName(ctx)
	if err != nil {
		return nil, "", err
	}

	store, err := statestore.New(runtimeDir, clusterName, database)
	if err != nil {
		return nil, "", err
	}
	if err := store.Lock(staleThreshold); err != nil {
		if errors.Is(err, mongoreindex.ErrLockHeld) {
			return nil, "", mongoreindex.NewPreconditionError("lock", err)
		}
		return nil, "", err
	}
	return store, clusterName, nil
}

// runRebuild wires Config -> Gateway -> StateStore -> OrphanReconciler ->
// JobDriver and serves the optional StatusServer alongside the job until
// it finishes. It does not run compaction; that is the compact
// subcommand.
func runRebuild(ctx context.Context, a *config.RebuildArgs, port int) error {
	gw, err := connect(ctx, a.ConnectionConfig)
	if err != nil {
		return err
	}
	defer gw.Close(context.Background())

	store, clusterName, err := openLockedStore(ctx, gw, a.RuntimeDir, a.Database, a.LockStaleThreshold)
	if err != nil {
		return err
	}
	defer store.Unlock()

	js, err := store.Load(ctx)
	if err != nil {
		return err
	}

	interactive := a.SafeRun
	pr := promptFor(interactive)

	// The reconciler runs unconditionally at job start, before any new
	// work, per spec.md §2/§4.4.
	rec := reconciler.New(gw, store, pr)
	if _, err := rec.Run(ctx, a.Database, a.Yes); err != nil {
		return err
	}

	if js == nil {
		js = &mongoreindex.JobState{
			SchemaVersion: mongoreindex.SchemaVersion,
			ClusterName:   clusterName,
			DBName:        a.Database,
			StartedAt:     time.Now(),
		}
	}

	var jsMu sync.Mutex
	jobState := func() *mongoreindex.JobState {
		jsMu.Lock()
		defer jsMu.Unlock()
		return js
	}

	orch := orchestrator.New(gw, store, metrics.Recorder{})
	orch.AllowUniqueRisk = a.AllowUniqueRisk

	proc := processor.New(gw, store, orch, pr)

	drv := driver.New(gw, store, proc)
	drv.FailFast = a.FailFast
	drv.Parallelism = a.Parallelism

	filters := driver.CollectionFilters{
		Specified: a.SpecifiedCollections,
		Ignored:   a.IgnoredCollections,
		Index:     processor.Filters{Specified: a.SpecifiedIndexes, Ignored: a.IgnoredIndexes},
	}

	runCtx := ctx
	if a.WallClockCap > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.WallClockCap)
		defer cancel()
	}

	srvCtx, stopSrv := context.WithCancel(ctx)
	defer stopSrv()

	var runLog *mongoreindex.RunLog
	var runErr error

	var g errgroup.Group
	g.Go(func() error {
		defer stopSrv()
		runLog, runErr = drv.Run(runCtx, a.Database, js, filters, interactive)
		return nil
	})
	if port > 0 {
		g.Go(func() error {
			return serve(srvCtx, port, gw, jobState)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if runLog != nil {
		if _, werr := runlog.WriteFile(a.LogDir, runLog); werr != nil {
			log.Printf("failed to write advisory performance log: %v", werr)
		}
	}

	if runErr == nil {
		if err := store.Delete(); err != nil {
			return err
		}
	}
	return runErr
}

// runCleanup runs the OrphanReconciler as a standalone command: dry-run
// unless --yes confirms drops.
func runCleanup(ctx context.Context, a *config.CleanupArgs) error {
	gw, err := connect(ctx, a.ConnectionConfig)
	if err != nil {
		return err
	}
	defer gw.Close(context.Background())

	clusterName, err := gw.ClusterName(ctx)
	if err != nil {
		return err
	}
	store, err := statestore.New(a.RuntimeDir, clusterName, a.Database)
	if err != nil {
		return err
	}
	// Load the state file, if any, so the reconciler sees recorded phases.
	if _, err := store.Load(ctx); err != nil {
		return err
	}

	pr := promptFor(a.SafeRun)
	r := reconciler.New(gw, store, pr)
	outcomes, err := r.Run(ctx, a.Database, a.Yes)
	if err != nil {
		return err
	}

	for _, o := range outcomes {
		action := "kept"
		if o.Dropped {
			action = "dropped"
		}
		log.Printf("%s.%s: %s (%s)", o.Candidate.Collection, o.Candidate.TempName, action, o.Reason)
	}
	return nil
}

// runCompact runs the CompactionStage as a standalone command.
func runCompact(ctx context.Context, a *config.CompactArgs) error {
	gw, err := connect(ctx, a.ConnectionConfig)
	if err != nil {
		return err
	}
	defer gw.Close(context.Background())

	pr := promptFor(a.SafeRun)
	useAutoCompact := !a.ForceManualCompact

	filters := compaction.Filters{Specified: a.SpecifiedCollections, Ignored: a.IgnoredCollections}

	// Declining the fallback prompt cancels runCtx before any compact is
	// issued, and the command exits as aborted.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	declined := false
	warn := func(message string) {
		if a.SafeRun {
			ok, err := pr.Confirm(ctx, message+"; continue with manual compact instead?")
			if err != nil || !ok {
				declined = true
				cancelRun()
				return
			}
		}
		log.Println(message)
	}

	stage := compaction.New(gw)
	stage.ForceManualCompact = a.ForceManualCompact
	stage.FreeSpaceTargetMB = a.FreeSpaceTargetMB

	reclamations, err := stage.Run(runCtx, a.Database, filters, useAutoCompact, warn)
	if declined {
		return mongoreindex.NewAbortedError("compact")
	}
	if err != nil {
		return err
	}

	for _, r := range reclamations {
		log.Printf("%s: storageSize %d -> %d (%d bytes reclaimed)", r.Collection, r.Before, r.After, r.Reclaimed())
	}
	return nil
}

// serve runs the optional StatusServer until ctx is canceled. A port <= 0
// is handled by the caller (the goroutine is never started), matching the
// teacher's serve() guard for a batch job that doesn't need an HTTP
// surface.
func serve(ctx context.Context, port int, gw gateway.Gateway, jobState controller.JobStateFunc) error {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), middleware.Prometheus(), cors.Default(), gzip.Gzip(gzip.DefaultCompression))
	pprof.Register(e)

	router.Register(e,
		controller.NewHealthController(gw),
		controller.NewJobController(jobState),
		controller.NewMetricsController(),
	)

	addr := fmt.Sprintf(":%d", port)
	s := &http.Server{Addr: addr, Handler: e}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(shutdownCtx)
	}()

	log.Printf("status server listening on %s", addr)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
