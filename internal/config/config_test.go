package config

import "testing"

func TestThetaInitFallsBackToThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.Threshold = 10
	if got := cfg.Scheduler.ThetaInit(); got != 10 {
		t.Fatalf("ThetaInit() = %v, want 10", got)
	}
}

func TestThetaInitPrefersDiffWhenSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.Threshold = 10
	diff := 4.5
	cfg.Scheduler.Diff = &diff
	if got := cfg.Scheduler.ThetaInit(); got != 4.5 {
		t.Fatalf("ThetaInit() = %v, want 4.5", got)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	yamlDoc := []byte(`
scheduler:
  input: /seeds
  output: /out
  fuzzer: [afl, libfuzzer]
  timeout: 1h
target:
  name: demo
  binary: /bin/demo
`)
	cfg, err := Load("config.yaml", func(string) ([]byte, error) { return yamlDoc, nil })
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.InputDir != "/seeds" || cfg.Target.Name != "demo" {
		t.Fatalf("unexpected merged config: %+v", cfg)
	}
	if cfg.Scheduler.Jobs != 1 {
		t.Fatalf("expected default Jobs=1 to survive merge, got %v", cfg.Scheduler.Jobs)
	}
}
