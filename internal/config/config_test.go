package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Classifier.ShoulderTiltThreshold != 0.05 || cfg.Classifier.HeadTiltThreshold != 0.05 {
		t.Fatalf("unexpected tilt thresholds: %+v", cfg.Classifier)
	}
	if cfg.Classifier.SlouchThreshold != 0.025 {
		t.Fatalf("unexpected slouch threshold: %v", cfg.Classifier.SlouchThreshold)
	}
	if cfg.Alert.RepeatPeriod != 5*time.Second {
		t.Fatalf("unexpected repeat period: %s", cfg.Alert.RepeatPeriod)
	}
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posturewatch.yaml")
	content := `
log_level: debug
classifier:
  slouch_threshold: 0.04
alert:
  repeat_period: 3s
  no_detection_policy: clear
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Classifier.SlouchThreshold != 0.04 {
		t.Fatalf("slouch threshold: %v", cfg.Classifier.SlouchThreshold)
	}
	if cfg.Classifier.ShoulderTiltThreshold != 0.05 {
		t.Fatalf("shoulder threshold default lost: %v", cfg.Classifier.ShoulderTiltThreshold)
	}
	if cfg.Alert.RepeatPeriod != 3*time.Second {
		t.Fatalf("repeat period: %s", cfg.Alert.RepeatPeriod)
	}
	if cfg.Alert.NoDetectionPolicy != NoDetectionClear {
		t.Fatalf("policy: %s", cfg.Alert.NoDetectionPolicy)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posturewatch.json")
	if err := os.WriteFile(path, []byte(`{"classifier":{"head_tilt_threshold":0.08}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Classifier.HeadTiltThreshold != 0.08 {
		t.Fatalf("head threshold: %v", cfg.Classifier.HeadTiltThreshold)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Classifier.SlouchThreshold = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for zero slouch threshold")
	}

	cfg = DefaultConfig()
	cfg.Classifier.Triggers = []string{"elbows"}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown trigger")
	}

	cfg = DefaultConfig()
	cfg.Alert.InitialVolume = 1.5
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for volume out of range")
	}

	cfg = DefaultConfig()
	cfg.Alert.NoDetectionPolicy = "ignore"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestManagerUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posturewatch.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.Classifier.SlouchThreshold = 0.03
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Classifier.SlouchThreshold != 0.03 {
		t.Fatalf("persisted slouch threshold: %v", reloaded.Classifier.SlouchThreshold)
	}
}

func TestStaticManagerUpdateInMemory(t *testing.T) {
	m := NewStaticManager(nil)
	next := *m.Get()
	next.Alert.InitialVolume = 0.2
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Get().Alert.InitialVolume != 0.2 {
		t.Fatalf("volume not updated")
	}
}

func TestManagerUpdateConcurrentWithWatchCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "posturewatch.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			next := *m.Get()
			next.Classifier.SlouchThreshold = 0.03
			if err := m.Update(&next); err != nil {
				t.Errorf("update: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := m.NeedsReload(); err != nil {
				t.Errorf("needs reload: %v", err)
				return
			}
		}
	}()
	wg.Wait()
	needs, err := m.NeedsReload()
	if err != nil {
		t.Fatalf("needs reload: %v", err)
	}
	if needs {
		t.Fatalf("own writes should not trigger a reload")
	}
}
