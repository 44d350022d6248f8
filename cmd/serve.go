package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/initializ/slipway/deploy"
	"github.com/initializ/slipway/internal/filewatch"
	"github.com/initializ/slipway/observe"
	"github.com/initializ/slipway/pipeline"
	"github.com/initializ/slipway/server"
	"github.com/initializ/slipway/store"
)

var (
	serveAddr string
	serveEnv  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trigger API and push webhook daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: manifest server.addr)")
	serveCmd.Flags().StringVar(&serveEnv, "env", "", "environment this daemon deploys to")
}

func runServe(cmd *cobra.Command, args []string) error {
	prefs := userPrefs()
	if serveAddr == "" && prefs.ServerAddr != "" {
		serveAddr = prefs.ServerAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		err := serveOnce(ctx)
		if err != nil || ctx.Err() != nil {
			return err
		}
		// The watcher tripped on a manifest edit; reload everything.
		fmt.Fprintln(os.Stderr, "manifest changed, restarting")
	}
}

func serveOnce(ctx context.Context) error {
	cfgPath, err := resolveConfigPath()
	if err != nil {
		return err
	}
	m, err := loadValidManifest(cfgPath)
	if err != nil {
		return err
	}
	engine, err := resolveEngine()
	if err != nil {
		return err
	}

	st, err := store.Open(m.Store.Path)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer st.Close()

	prev, err := lastGeneration(ctx, st)
	if err != nil {
		return err
	}

	logger := newLogger()
	metrics := observe.NewRegistry()
	observer := observe.Fanout(
		observe.Observer(metrics),
		func(ev pipeline.Event) {
			if ev.Kind != pipeline.EventStageFinished {
				return
			}
			fields := map[string]any{
				"run_id": ev.RunID, "stage": ev.Stage, "outcome": string(ev.Outcome),
			}
			if ev.Err != "" {
				fields["error"] = ev.Err
			}
			logger.Info("stage finished", fields)
		},
	)

	orch, err := deploy.New(deploy.Options{
		Manifest:           m,
		Environment:        serveEnv,
		Engine:             engine,
		Recorder:           st,
		Observer:           observer,
		Logger:             logger,
		PreviousGeneration: prev,
	})
	if err != nil {
		return err
	}

	// Edits to the manifest cancel watchCtx, which also aborts any detached
	// run at its next stage boundary before the daemon reloads.
	watchCtx, stopWatch, err := filewatch.UntilChange(ctx, cfgPath)
	if err != nil {
		return fmt.Errorf("watching %s: %w", cfgPath, err)
	}
	defer stopWatch()

	e := server.New(watchCtx, server.Config{
		Deployer: orch,
		Runs:     st,
		Metrics:  metrics,
		Logger:   logger,
	})

	addr := serveAddr
	if addr == "" {
		addr = m.Server.Addr
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(addr)
	}()
	logger.Info("daemon listening", map[string]any{
		"addr":    addr,
		"project": m.Project,
		"engine":  engine.Name(),
	})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-watchCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server close", map[string]any{"error": err.Error()})
		e.Close() //nolint:errcheck
	}
	return nil
}
