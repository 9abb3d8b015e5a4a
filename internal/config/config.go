package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LoggingConfig 는 공통 로그 설정을 담습니다.
type LoggingConfig struct {
	Level string // 예: "debug", "info", "warn", "error"
}

// ServerConfig 는 PSK 에코 서버 프로세스 설정을 담습니다.
type ServerConfig struct {
	DTLSListen    string            // 예: ":5684"
	PSKs          map[string]string // identity → secret
	CipherSuites  []string          // 비어 있으면 지원하는 모든 suite
	MetricsListen string            // 비어 있으면 /metrics 를 열지 않음

	Logging LoggingConfig
}

// ClientConfig 는 클라이언트 프로세스 설정을 담습니다.
//
// 값은 .env/환경변수와 CLI 인자를 조합해 구성하며,
// CLI 인자가 우선, env 가 후순위로 적용됩니다.
type ClientConfig struct {
	Host             string // DTLS 서버 호스트 (도메인 또는 IP 리터럴)
	Port             string // DTLS 서버 포트
	PSKIdentity      string
	PSKSecret        string
	CipherSuite      string // 예: "AES128_SHA256"
	HandshakeTimeout time.Duration
	PathTimeout      time.Duration
	MaxPayloadSize   int
	MTU              int
	MetricsListen    string

	Logging LoggingConfig
}

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

// loadDotEnvOnce 는 현재 작업 디렉터리의 .env 파일을 한 번만 읽어서 os.Environ 에 주입합니다.
// - KEY=VALUE, export KEY=VALUE 형식을 지원
// - # 으로 시작하는 줄은 주석으로 간주합니다.
func loadDotEnvOnce() {
	dotenvOnce.Do(func() {
		fi, err := os.Stat(".env")
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return
			}
			dotenvErr = err
			return
		}
		if fi.IsDir() {
			return
		}

		f, err := os.Open(".env")
		if err != nil {
			dotenvErr = err
			return
		}
		defer f.Close()

		dotenvErr = applyDotEnv(bufio.NewScanner(f))
	})
}

// applyDotEnv 는 이미 OS 환경변수에 있는 키는 건드리지 않고 나머지만 주입합니다.
func applyDotEnv(scanner *bufio.Scanner) error {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		// 양 끝의 작은/큰따옴표 제거
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if key != "" {
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
	return scanner.Err()
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// getEnvDuration 은 "30s", "1m30s" 같은 Go duration 또는 초 단위 정수를 받습니다.
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("%s must be positive, got %q", key, v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return d, nil
}

func getEnvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func parseCSVEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseKeyValueCSV 는 "k1=v1,k2=v2" 형태의 문자열을 map 으로 변환합니다.
func parseKeyValueCSV(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	m := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k != "" {
			m[k] = v
		}
	}
	return m
}

func loadLoggingFromEnv() LoggingConfig {
	return LoggingConfig{
		Level: getEnvOrDefault("HOP_LOG_LEVEL", "info"),
	}
}

// LoadServerConfigFromEnv 는 .env 를 한 번 읽어 현재 환경변수를 보완한 뒤
// "환경변수 > .env" 우선순위로 서버 설정을 구성합니다.
func LoadServerConfigFromEnv() (*ServerConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	cfg := &ServerConfig{
		DTLSListen:    normalizePort(os.Getenv("HOP_DTLS_LISTEN"), ":5684"),
		PSKs:          parseKeyValueCSV(os.Getenv("HOP_DTLS_PSKS")),
		CipherSuites:  parseCSVEnv("HOP_DTLS_CIPHER_SUITES"),
		MetricsListen: normalizePort(os.Getenv("HOP_METRICS_LISTEN"), ""),
		Logging:       loadLoggingFromEnv(),
	}
	if len(cfg.PSKs) == 0 {
		return nil, fmt.Errorf("HOP_DTLS_PSKS must contain at least one identity=secret pair")
	}
	return cfg, nil
}

// LoadClientConfigFromEnv 는 .env 를 한 번 읽어 현재 환경변수를 보완한 뒤
// "환경변수 > .env" 우선순위로 클라이언트 설정을 구성합니다.
// 필수 값(host, identity, secret) 검증은 CLI 인자를 합친 뒤 main 에서 수행합니다.
func LoadClientConfigFromEnv() (*ClientConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	handshakeTimeout, err := getEnvDuration("HOP_DTLS_HANDSHAKE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pathTimeout, err := getEnvDuration("HOP_DTLS_PATH_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	maxPayload, err := getEnvInt("HOP_DTLS_MAX_PAYLOAD", 1024)
	if err != nil {
		return nil, err
	}
	mtu, err := getEnvInt("HOP_DTLS_MTU", 1200)
	if err != nil {
		return nil, err
	}

	cfg := &ClientConfig{
		Host:             os.Getenv("HOP_DTLS_HOST"),
		Port:             getEnvOrDefault("HOP_DTLS_PORT", "5684"),
		PSKIdentity:      os.Getenv("HOP_DTLS_PSK_IDENTITY"),
		PSKSecret:        os.Getenv("HOP_DTLS_PSK_SECRET"),
		CipherSuite:      getEnvOrDefault("HOP_DTLS_CIPHER_SUITE", "AES128_SHA256"),
		HandshakeTimeout: handshakeTimeout,
		PathTimeout:      pathTimeout,
		MaxPayloadSize:   maxPayload,
		MTU:              mtu,
		MetricsListen:    normalizePort(os.Getenv("HOP_METRICS_LISTEN"), ""),
		Logging:          loadLoggingFromEnv(),
	}
	return cfg, nil
}

// normalizePort 는 숫자 포트만 지정한 경우 ":" prefix 를 붙입니다. (예: "80" -> ":80")
func normalizePort(p string, def string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return def
	}
	if strings.HasPrefix(p, ":") {
		return p
	}
	if _, err := strconv.Atoi(p); err == nil {
		return ":" + p
	}
	return p
}

// Debug 는 HOP_DEBUG 가 켜져 있으면 true 입니다. 로그 레벨을 debug 로 강제할 때 사용합니다.
func Debug() bool {
	return getEnvBool("HOP_DEBUG", false)
}
