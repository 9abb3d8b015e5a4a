package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dalbodeule/hop-dtls/internal/config"
	"github.com/dalbodeule/hop-dtls/internal/dtls"
	"github.com/dalbodeule/hop-dtls/internal/logging"
	"github.com/dalbodeule/hop-dtls/internal/observability"
)

// firstNonEmpty 는 앞에서부터 처음으로 non-empty 인 문자열을 반환합니다.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func main() {
	// 1. 환경변수(.env 포함)에서 클라이언트 설정 로드
	envCfg, err := config.LoadClientConfigFromEnv()
	if err != nil {
		logging.NewStdJSONLogger("client").Error("failed to load client config from env", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	level := logging.ParseLevel(envCfg.Logging.Level)
	if config.Debug() {
		level = logging.DebugLevel
	}
	logger := logging.NewJSONLogger(os.Stderr, "client", level)

	// CLI 인자 정의 (env 보다 우선 적용됨)
	hostFlag := flag.String("host", "", "DTLS server host (domain or IP literal)")
	portFlag := flag.String("port", "", "DTLS server port")
	identityFlag := flag.String("identity", "", "PSK identity")
	secretFlag := flag.String("secret", "", "PSK secret")
	suiteFlag := flag.String("suite", "", "PSK cipher suite, e.g. AES128_SHA256")
	flag.Parse()

	// 2. CLI 인자 우선, env 후순위로 최종 설정 구성
	finalCfg := *envCfg
	finalCfg.Host = firstNonEmpty(strings.TrimSpace(*hostFlag), strings.TrimSpace(envCfg.Host))
	finalCfg.Port = firstNonEmpty(strings.TrimSpace(*portFlag), strings.TrimSpace(envCfg.Port))
	finalCfg.PSKIdentity = firstNonEmpty(*identityFlag, envCfg.PSKIdentity)
	finalCfg.PSKSecret = firstNonEmpty(*secretFlag, envCfg.PSKSecret)
	finalCfg.CipherSuite = firstNonEmpty(strings.TrimSpace(*suiteFlag), envCfg.CipherSuite)

	// 3. 필수 필드 검증
	missing := []string{}
	if finalCfg.Host == "" {
		missing = append(missing, "host")
	}
	if finalCfg.PSKIdentity == "" {
		missing = append(missing, "psk_identity")
	}
	if finalCfg.PSKSecret == "" {
		missing = append(missing, "psk_secret")
	}
	if len(missing) > 0 {
		logger.Error("client config missing required fields", logging.Fields{
			"missing": missing,
		})
		os.Exit(1)
	}

	suite, err := dtls.ParseCipherSuite(finalCfg.CipherSuite)
	if err != nil {
		logger.Error("invalid cipher suite", logging.Fields{
			"cipher_suite": finalCfg.CipherSuite,
			"error":        err.Error(),
		})
		os.Exit(1)
	}

	creds, err := dtls.NewCredentials(finalCfg.PSKIdentity, finalCfg.PSKSecret, suite)
	if err != nil {
		logger.Error("invalid psk credentials", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	logger.Info("hop-dtls client starting", logging.Fields{
		"host":                finalCfg.Host,
		"port":                finalCfg.Port,
		"cipher_suite":        suite.String(),
		"psk_identity_masked": creds.MaskedIdentity(),
		"handshake_timeout":   finalCfg.HandshakeTimeout.String(),
		"path_timeout":        finalCfg.PathTimeout.String(),
		"max_payload":         finalCfg.MaxPayloadSize,
	})

	if finalCfg.MetricsListen != "" {
		observability.MustRegister()
		go serveMetrics(logger, finalCfg.MetricsListen)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. 세션 구성 및 연결
	sess := dtls.NewSession(dtls.SessionConfig{
		Transport:        &dtls.UDPTransport{PathTimeout: finalCfg.PathTimeout, Logger: logger},
		Engine:           &dtls.PionEngine{MTU: finalCfg.MTU, Logger: logger},
		Logger:           logger,
		HandshakeTimeout: finalCfg.HandshakeTimeout,
		MaxPayloadSize:   finalCfg.MaxPayloadSize,
	})
	if err := sess.Configure(finalCfg.PSKIdentity, finalCfg.PSKSecret, suite); err != nil {
		logger.Error("invalid psk credentials", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	ready := make(chan struct{})
	var failure error
	err = sess.Connect(finalCfg.Host, finalCfg.Port, func(state dtls.ConnectionState, err error) {
		fields := logging.Fields{"state": state.String()}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.Info("session state changed", fields)

		switch state {
		case dtls.StateReady:
			close(ready)
			armReceive(sess, logger)
		case dtls.StateFailed:
			failure = err
		}
	})
	if err != nil {
		logger.Error("failed to start dtls session", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	// 5. Ready 이후 stdin 한 줄을 메시지 하나로 전송
	go func() {
		select {
		case <-ready:
		case <-sess.Done():
			return
		}
		pumpStdin(sess, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down client", nil)
		sess.Close()
	case <-sess.Done():
	}
	<-sess.Done()

	if failure != nil {
		os.Exit(1)
	}
}

// armReceive 는 수신 콜백을 한 번 등록하고, 메시지를 받을 때마다 다시 등록합니다.
func armReceive(sess *dtls.Session, logger logging.Logger) {
	err := sess.Receive(func(payload []byte, err error) {
		if err != nil {
			if errors.Is(err, dtls.ErrDecryptionFailure) {
				logger.Warn("dropped undecryptable record", logging.Fields{
					"error": err.Error(),
				})
				armReceive(sess, logger)
			}
			return
		}
		fmt.Fprintln(os.Stdout, string(payload))
		armReceive(sess, logger)
	})
	if err != nil && !errors.Is(err, dtls.ErrNotReady) {
		logger.Warn("failed to register receive", logging.Fields{
			"error": err.Error(),
		})
	}
}

func pumpStdin(sess *dtls.Session, logger logging.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		err := sess.Send([]byte(line), func(err error) {
			if err != nil {
				logger.Warn("send failed", logging.Fields{
					"error": err.Error(),
				})
			}
		})
		if errors.Is(err, dtls.ErrNotReady) {
			return
		}
		if err != nil {
			logger.Warn("send rejected", logging.Fields{
				"error": err.Error(),
				"bytes": len(line),
			})
		}
	}
}

func serveMetrics(logger logging.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", logging.Fields{
		"addr": addr,
	})
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server exited", logging.Fields{
			"error": err.Error(),
		})
	}
}
