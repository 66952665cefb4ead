package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default log output 'stderr', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LogLevelNormalized(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "debug"
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized log level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Metadata(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Metadata.DBType != "mysql" {
		t.Errorf("Expected default db_type mysql, got %q", cfg.Metadata.DBType)
	}
	if cfg.Metadata.Host != "localhost" {
		t.Errorf("Expected default host localhost, got %q", cfg.Metadata.Host)
	}
	if cfg.Metadata.Port != 3306 {
		t.Errorf("Expected default port 3306, got %d", cfg.Metadata.Port)
	}
	if cfg.Metadata.User != "root" {
		t.Errorf("Expected default user root, got %q", cfg.Metadata.User)
	}
	if cfg.Metadata.Database != "mediabackups" {
		t.Errorf("Expected default database mediabackups, got %q", cfg.Metadata.Database)
	}
	if cfg.Metadata.Batchsize != 1000 {
		t.Errorf("Expected default batchsize 1000, got %d", cfg.Metadata.Batchsize)
	}
}

func TestApplyDefaults_Production(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Production.Host != "localhost" {
		t.Errorf("Expected default host localhost, got %q", cfg.Production.Host)
	}
	if cfg.Production.Port != 3306 {
		t.Errorf("Expected default port 3306, got %d", cfg.Production.Port)
	}
	if cfg.Production.User != "root" {
		t.Errorf("Expected default user root, got %q", cfg.Production.User)
	}
	if cfg.Production.Batchsize != 100 {
		t.Errorf("Expected default batchsize 100, got %d", cfg.Production.Batchsize)
	}
}

func TestApplyDefaults_WorkerFallsBackToMetadataBatchsize(t *testing.T) {
	cfg := &Config{}
	cfg.Metadata.Batchsize = 500
	ApplyDefaults(cfg)

	if cfg.Worker.Batchsize != 500 {
		t.Errorf("Expected worker batchsize to follow metadata (500), got %d", cfg.Worker.Batchsize)
	}
	if cfg.Worker.TmpDir != "/srv/mediabackup" {
		t.Errorf("Expected default tmpdir /srv/mediabackup, got %q", cfg.Worker.TmpDir)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.WaitTime != 10*time.Second {
		t.Errorf("Expected default wait_time 10s, got %v", cfg.API.WaitTime)
	}
	if cfg.API.BatchWaitTime != 1*time.Second {
		t.Errorf("Expected default batch_wait_time 1s, got %v", cfg.API.BatchWaitTime)
	}
	if cfg.API.UserAgent == "" {
		t.Error("Expected a default user agent")
	}
}

func TestApplyDefaults_MetricsPortOnlyWhenEnabled(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 0 {
		t.Errorf("Expected no metrics port when disabled, got %d", cfg.Metrics.Port)
	}

	cfg = &Config{}
	cfg.Metrics.Enabled = true
	ApplyDefaults(cfg)
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_Telemetry(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("Expected default OTLP endpoint, got %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.SampleRate != 1.0 {
		t.Errorf("Expected default sample rate 1.0, got %v", cfg.Telemetry.SampleRate)
	}
	if cfg.Telemetry.Profiling.Endpoint != "http://localhost:4040" {
		t.Errorf("Expected default Pyroscope endpoint, got %q", cfg.Telemetry.Profiling.Endpoint)
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		t.Error("Expected default profile types")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "ERROR"
	cfg.Metadata.Host = "db1001.example.org"
	cfg.Production.Batchsize = 250
	cfg.Worker.TmpDir = "/tmp/media"
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Explicit log level overwritten: %q", cfg.Logging.Level)
	}
	if cfg.Metadata.Host != "db1001.example.org" {
		t.Errorf("Explicit metadata host overwritten: %q", cfg.Metadata.Host)
	}
	if cfg.Production.Batchsize != 250 {
		t.Errorf("Explicit production batchsize overwritten: %d", cfg.Production.Batchsize)
	}
	if cfg.Worker.TmpDir != "/tmp/media" {
		t.Errorf("Explicit tmpdir overwritten: %q", cfg.Worker.TmpDir)
	}
}

func TestGetDefaultConfig_Valid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected default config to validate, got: %v", err)
	}
}
