package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gethiox/midiroute/internal/pkg/config"
	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/gethiox/midiroute/internal/pkg/midi/router"
	"github.com/gethiox/midiroute/internal/pkg/route"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	routesPath   string
	watchRoutes  bool
	overviewRate time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Forward events according to a route file until interrupted",
	Args:  cobra.NoArgs,
	RunE:  run,
}

func init() {
	runCmd.Flags().StringVar(&routesPath, "routes", "routes.yaml", "route file (.yaml, .yml or .toml)")
	runCmd.Flags().BoolVar(&watchRoutes, "watch", true, "re-apply routes when the route file changes")
	runCmd.Flags().DurationVar(&overviewRate, "overview", 0, "log port overview periodically, 0 disables")
	rootCmd.AddCommand(runCmd)
}

func runMetricsServer(wg *sync.WaitGroup, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info(fmt.Sprintf("metrics hosted on %s/metrics", addr), logger.Info)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := server.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			log.Info("metrics server exited", zap.Error(err), logger.Warning)
		}
	}()
	return server
}

func applyRoutes(m *route.Manager, path string) {
	routes, err := config.LoadRoutes(path)
	if err != nil {
		log.Info("Failed to load routes, keeping previous ones", zap.Error(err), logger.Warning)
		return
	}
	err = m.Apply(routes)
	if err != nil {
		log.Info("Failed to apply routes", zap.Error(err), logger.Warning)
	}
}

func logOverview(ctx context.Context, wg *sync.WaitGroup, r *router.Router, rate time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, line := range overview(au, r.Status()) {
				log.Info(line, logger.Info)
			}
		}
	}
}

func run(cmd *cobra.Command, args []string) error {
	routes, err := config.LoadRoutes(routesPath)
	if err != nil {
		return err
	}

	client, err := openTransport()
	if err != nil {
		return err
	}
	defer client.Close()

	// this wait-group has to cover every goroutine that may log
	var wg sync.WaitGroup

	var metrics *router.Metrics
	var server *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = router.NewMetrics(reg)
		server = runMetricsServer(&wg, cfg.Metrics.Address, reg)
	}

	r := router.New(client, router.WithLogger(log), router.WithMetrics(metrics))
	m := route.NewManager(r, log)
	err = m.Apply(routes)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := withSignals(cmd.Context(), &wg, server)

	if watchRoutes {
		changes, err := config.WatchRoutes(ctx, routesPath, log)
		if err != nil {
			log.Info("Route file will not be watched", zap.Error(err), logger.Warning)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range changes {
					applyRoutes(m, routesPath)
				}
			}()
		}
	}

	if overviewRate > 0 {
		wg.Add(1)
		go logOverview(ctx, &wg, r, overviewRate)
	}

	err = r.Run(ctx)
	stop()
	if server != nil {
		_ = server.Close()
	}
	wg.Wait()
	return err
}
