package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"MQTT_BROKER": "tcp://localhost:1883",
		"DB_NAME":     "siwatt_test",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.BufferDir != "./data/buffer" {
			t.Errorf("BufferDir = %q, want ./data/buffer", cfg.BufferDir)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.MQTTTopicMode != "prefixed" {
			t.Errorf("MQTTTopicMode = %q, want prefixed", cfg.MQTTTopicMode)
		}
		if cfg.BalanceDecreaseMode != "minute" {
			t.Errorf("BalanceDecreaseMode = %q, want minute", cfg.BalanceDecreaseMode)
		}
		if !cfg.BufferWatch {
			t.Error("BufferWatch = false, want true")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:    "nonexistent.env",
			LogLevel:   "debug",
			MQTTBroker: "tcp://override:1883",
			BufferDir:  "/tmp/buffer",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.MQTTBroker != "tcp://override:1883" {
			t.Errorf("MQTTBroker = %q, want override", cfg.MQTTBroker)
		}
		if cfg.BufferDir != "/tmp/buffer" {
			t.Errorf("BufferDir = %q, want /tmp/buffer", cfg.BufferDir)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.MQTTBroker != "tcp://localhost:1883" {
			t.Errorf("MQTTBroker = %q, want tcp://localhost:1883", cfg.MQTTBroker)
		}
		if cfg.DBName != "siwatt_test" {
			t.Errorf("DBName = %q, want siwatt_test", cfg.DBName)
		}
	})
}

func TestValidateNormalizesEnums(t *testing.T) {
	cfg := &Config{MQTTBroker: "tcp://x:1883", DBName: "d", BalanceDecreaseMode: "HOUR", MQTTTopicMode: "SIMPLE"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.BalanceDecreaseMode != "hour" {
		t.Errorf("BalanceDecreaseMode = %q, want hour", cfg.BalanceDecreaseMode)
	}
	if cfg.MQTTTopicMode != "simple" {
		t.Errorf("MQTTTopicMode = %q, want simple", cfg.MQTTTopicMode)
	}
}

func TestValidateBadEnumsFallBackToDefault(t *testing.T) {
	cfg := &Config{MQTTBroker: "tcp://x:1883", DBName: "d", BalanceDecreaseMode: "bogus", MQTTTopicMode: "bogus"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.BalanceDecreaseMode != "minute" {
		t.Errorf("BalanceDecreaseMode = %q, want minute", cfg.BalanceDecreaseMode)
	}
	if cfg.MQTTTopicMode != "prefixed" {
		t.Errorf("MQTTTopicMode = %q, want prefixed", cfg.MQTTTopicMode)
	}
}

func TestValidateMissingBroker(t *testing.T) {
	cfg := &Config{DBName: "d"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when MQTT_BROKER is missing")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
