package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"inframon/cmd/internal/devserver"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newServer(cfg Config, h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: nonZeroDuration(cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    1 << 20,
	}
}

// serve runs srv on ln until ctx is done, then shuts it down.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, log Logger, name string) error {
	log.Info(name+".start", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info(name+".stop", "reason", "context_done")
	case err := <-errCh:
		log.Error(name+".fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(name+".shutdown.fail", "err", err)
		return err
	}
	log.Info(name + ".stopped")
	return nil
}

// devServerHandler mounts the dev auth server with health and metrics routes.
func devServerHandler(h *devserver.Handler, reg *prometheus.Registry, log Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	h.Register(mux)
	return WithRequestLogging(mux, log)
}

// startMetrics serves reg on addr in the background. The returned function
// stops the listener and waits for it.
func startMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log Logger, cfg Config) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := newServer(cfg, mux)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = serve(ctx, srv, ln, log, "metrics")
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
