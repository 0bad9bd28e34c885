// Package port resolves the HTTP listen address for botdetectd the same
// way the teacher resolves the listen port for an agent server: detect the
// deployment environment (Kubernetes, Docker Compose, production, local)
// and pick a fixed port for managed environments but auto-discover a free
// one for local development, rather than hard-coding ":8080" everywhere.
package port

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/wavecore/botdetect/internal/logging"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// Environment is the deployment environment the process detects itself
// running in.
type Environment string

const (
	EnvLocal      Environment = "local"
	EnvDocker     Environment = "docker"
	EnvKubernetes Environment = "kubernetes"
	EnvProduction Environment = "production"
)

// ServerConfig holds the raw, environment-aware server configuration.
type ServerConfig struct {
	Port         int
	Host         string
	PortRange    string
	AutoDiscover bool
	Environment  Environment
}

// Strategy is the resolved outcome of Manager.Resolve: the port to bind
// and why it was chosen.
type Strategy struct {
	Port         int
	AutoDiscover bool
	Source       string
	Environment  Environment
}

// Manager resolves botdetectd's HTTP listen address from the process
// environment.
type Manager struct {
	config *ServerConfig
	logger logging.Logger
}

// NewManager builds a Manager from LISTEN_HOST / LISTEN_PORT /
// LISTEN_PORT_RANGE / LISTEN_AUTO_DISCOVER environment variables, detecting
// the deployment environment along the way.
func NewManager(logger logging.Logger) *Manager {
	config := &ServerConfig{
		Host:         getEnvOrDefault("LISTEN_HOST", "0.0.0.0"),
		PortRange:    getEnvOrDefault("LISTEN_PORT_RANGE", "8080-8090"),
		AutoDiscover: getEnvBoolOrDefault("LISTEN_AUTO_DISCOVER", true),
		Environment:  detectEnvironment(),
	}

	if portEnv := os.Getenv("LISTEN_PORT"); portEnv != "" {
		if portEnv == "auto" {
			config.Port = 0
		} else if p, err := strconv.Atoi(portEnv); err == nil {
			config.Port = p
			config.AutoDiscover = false
		}
	}

	return &Manager{config: config, logger: logging.Default(logger)}
}

func detectEnvironment() Environment {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" ||
		os.Getenv("KUBERNETES_PORT") != "" ||
		fileExists("/var/run/secrets/kubernetes.io/serviceaccount/token") {
		return EnvKubernetes
	}
	if os.Getenv("COMPOSE_PROJECT_NAME") != "" {
		return EnvDocker
	}
	if os.Getenv("GO_ENV") == "production" || os.Getenv("ENVIRONMENT") == "production" {
		return EnvProduction
	}
	return EnvLocal
}

// Resolve determines the port strategy for the current environment:
// managed environments get a fixed port (overridable via LISTEN_PORT), local
// development auto-discovers a free one within PortRange.
func (m *Manager) Resolve() Strategy {
	env := m.config.Environment

	switch env {
	case EnvKubernetes, EnvDocker, EnvProduction:
		port := 8080
		source := string(env) + "-fixed"
		if m.config.Port > 0 {
			port = m.config.Port
			source = "explicit-port"
		}
		return Strategy{Port: port, AutoDiscover: false, Source: source, Environment: env}

	default: // EnvLocal
		if m.config.Port > 0 {
			return Strategy{Port: m.config.Port, AutoDiscover: false, Source: "explicit-port", Environment: env}
		}
		if !m.config.AutoDiscover {
			return Strategy{Port: 8080, AutoDiscover: false, Source: "default-port", Environment: env}
		}
		port := m.findAvailablePortInRange(m.config.PortRange)
		return Strategy{Port: port, AutoDiscover: true, Source: "auto-discovery", Environment: env}
	}
}

// ListenAddr resolves and logs the full host:port address to bind.
func (m *Manager) ListenAddr() string {
	strategy := m.Resolve()
	m.logger.Info("listen address resolved", map[string]interface{}{
		"port":          strategy.Port,
		"auto_discover": strategy.AutoDiscover,
		"source":        strategy.Source,
		"environment":   string(strategy.Environment),
		"host":          m.config.Host,
	})
	return fmt.Sprintf("%s:%d", m.config.Host, strategy.Port)
}

func (m *Manager) findAvailablePortInRange(portRange string) int {
	start, end := m.parsePortRange(portRange)
	for p := start; p <= end; p++ {
		if m.isPortAvailable(p) {
			return p
		}
	}
	m.logger.Warn("no ports available in range, finding any available port", map[string]interface{}{"range": portRange})
	return m.findAnyAvailablePort()
}

func (m *Manager) parsePortRange(portRange string) (int, int) {
	parts := strings.Split(portRange, "-")
	if len(parts) != 2 {
		return 8080, 8090
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || start > end {
		return 8080, 8090
	}
	return start, end
}

func (m *Manager) isPortAvailable(p int) bool {
	address := fmt.Sprintf("%s:%d", m.config.Host, p)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return false
	}
	defer listener.Close()
	return true
}

func (m *Manager) findAnyAvailablePort() int {
	commonPorts := []int{8080, 8081, 8082, 8083, 8084, 8085, 8090, 8091, 8092, 8093, 8094, 8095}
	for _, p := range commonPorts {
		if m.isPortAvailable(p) {
			return p
		}
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:0", m.config.Host))
	if err != nil {
		m.logger.Error("failed to find any available port", map[string]interface{}{"error": err.Error()})
		return 8080
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}
