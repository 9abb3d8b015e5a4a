package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dalbodeule/hop-dtls/internal/config"
	"github.com/dalbodeule/hop-dtls/internal/dtls"
	"github.com/dalbodeule/hop-dtls/internal/logging"
	"github.com/dalbodeule/hop-dtls/internal/observability"
)

func main() {
	// 1. 서버 설정 로드 (.env + 환경변수)
	cfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		logging.NewStdJSONLogger("server").Error("failed to load server config from env", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if config.Debug() {
		level = logging.DebugLevel
	}
	logger := logging.NewJSONLogger(os.Stdout, "server", level)

	suites := make([]dtls.CipherSuite, 0, len(cfg.CipherSuites))
	for _, name := range cfg.CipherSuites {
		suite, err := dtls.ParseCipherSuite(name)
		if err != nil {
			logger.Error("invalid cipher suite", logging.Fields{
				"cipher_suite": name,
				"error":        err.Error(),
			})
			os.Exit(1)
		}
		suites = append(suites, suite)
	}

	logger.Info("hop-dtls echo server starting", logging.Fields{
		"dtls_listen":    cfg.DTLSListen,
		"metrics_listen": cfg.MetricsListen,
		"psk_identities": len(cfg.PSKs),
		"cipher_suites":  cfg.CipherSuites,
	})

	observability.MustRegister()

	// 2. PSK DTLS 리스너 생성 (pion/dtls 기반)
	dtlsServer, err := dtls.NewPionServer(dtls.ServerConfig{
		Addr:         cfg.DTLSListen,
		KeyStore:     dtls.StaticKeyStore{Keys: cfg.PSKs, Logger: logger},
		CipherSuites: suites,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to start dtls server", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer dtlsServer.Close()

	logger.Info("dtls server listening", logging.Fields{
		"addr": dtlsServer.Addr().String(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. DTLS 에코 루프와 /metrics HTTP 서버를 함께 실행
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dtlsServer.Serve(gctx, dtls.EchoHandler(0))
	})

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.Info("server stopped", nil)
}
