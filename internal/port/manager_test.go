package port_test

import (
	"os"
	"testing"

	"github.com/wavecore/botdetect/internal/logging"
	"github.com/wavecore/botdetect/internal/port"
)

func TestNewManager(t *testing.T) {
	m := port.NewManager(logging.NoOpLogger{})
	if m == nil {
		t.Fatal("expected Manager to be created")
	}
}

func TestManager_Resolve(t *testing.T) {
	m := port.NewManager(logging.NoOpLogger{})
	strategy := m.Resolve()
	if strategy.Port == 0 {
		t.Error("expected resolved strategy to have a port")
	}
}

func TestManager_ListenAddr(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(string) bool
	}{
		{
			name: "explicit port from env",
			envVars: map[string]string{
				"LISTEN_PORT": "9999",
			},
			expected: func(addr string) bool {
				return addr == "0.0.0.0:9999"
			},
		},
		{
			name:    "auto discovery within default range",
			envVars: map[string]string{},
			expected: func(addr string) bool {
				return len(addr) > 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.envVars {
					os.Unsetenv(k)
				}
			}()

			m := port.NewManager(logging.NoOpLogger{})
			addr := m.ListenAddr()
			if !tt.expected(addr) {
				t.Errorf("listen addr %q did not meet expectations", addr)
			}
		})
	}
}

func TestManager_DetectsKubernetes(t *testing.T) {
	os.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	defer os.Unsetenv("KUBERNETES_SERVICE_HOST")

	m := port.NewManager(logging.NoOpLogger{})
	strategy := m.Resolve()
	if strategy.Environment != port.EnvKubernetes {
		t.Errorf("expected EnvKubernetes, got %s", strategy.Environment)
	}
	if strategy.AutoDiscover {
		t.Error("kubernetes environment should never auto-discover a port")
	}
}
