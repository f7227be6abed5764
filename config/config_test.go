package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 80*1024, cfg.Engine.ArenaSize)
	assert.Equal(t, float32(0.5), cfg.Engine.Threshold)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
RPCPort: 6000
HTTPPort: 6001
AdhocPort: 6002
workersNum: 3
instanceClass: EdgeTpu
engine:
  modelPath: /opt/models/person.tflite
  threshold: 0.7
  useEdgeTPU: true
mqtt:
  enabled: true
  broker: tcp://broker:1883
  topicPrefix: esp32
  qos: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.RPCPort)
	assert.Equal(t, 3, cfg.WorkersNum)
	assert.Equal(t, "EdgeTpu", cfg.InstanceClass)
	assert.Equal(t, "/opt/models/person.tflite", cfg.Engine.ModelPath)
	assert.Equal(t, float32(0.7), cfg.Engine.Threshold)
	assert.True(t, cfg.Engine.UseEdgeTPU)
	assert.Equal(t, 1, cfg.Engine.PersonIndex, "unset keys keep defaults")
	assert.Equal(t, "esp32", cfg.MQTT.TopicPrefix)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PERSONDET_MODEL_PATH", "/env/model.tflite")
	t.Setenv("PERSONDET_MQTT_BROKER", "tcp://env:1883")
	t.Setenv("PERSONDET_THRESHOLD", "0.8")
	t.Setenv("PERSONDET_WORKERS", "4")

	cfg, err := Load(writeConfig(t, "workersNum: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, "/env/model.tflite", cfg.Engine.ModelPath)
	assert.Equal(t, "tcp://env:1883", cfg.MQTT.Broker)
	assert.True(t, cfg.MQTT.Enabled)
	assert.InDelta(t, 0.8, cfg.Engine.Threshold, 1e-6)
	assert.Equal(t, 4, cfg.WorkersNum)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":       "RPCPort: [",
		"bad threshold":  "engine:\n  threshold: 1.5\n",
		"bad port":       "HTTPPort: 70000\n",
		"bad qos":        "mqtt:\n  qos: 3\n",
		"mqtt no broker": "mqtt:\n  enabled: true\n  broker: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	t.Setenv("PERSONDET_WORKERS", "many")
	_, err := Load(writeConfig(t, ""))
	assert.Error(t, err)
}

func TestClampWorkers(t *testing.T) {
	cfg := Default()
	cfg.WorkersNum = 0
	clamped, over := cfg.ClampWorkers(4)
	assert.True(t, clamped)
	assert.False(t, over)
	assert.Equal(t, 1, cfg.WorkersNum)

	cfg.WorkersNum = 8
	clamped, over = cfg.ClampWorkers(4)
	assert.False(t, clamped)
	assert.True(t, over)
}

func TestLoad_ZeroEngineValues(t *testing.T) {
	path := writeConfig(t, `
engine:
  threshold: 0
  personIndex: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, float32(0), cfg.Engine.Threshold)
	assert.Equal(t, 0, cfg.Engine.PersonIndex)
	assert.Equal(t, 80*1024, cfg.Engine.ArenaSize)
}
