package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "SYSTEM_A_BASE_URL", "SYSTEM_B_BASE_URL",
		"SYSTEM_A_RATE_HZ", "SYSTEM_B_RATE_HZ", "BATCH_SIZE",
		"RETRY_MAX_RETRIES", "RETRY_BASE_DELAY_MS", "STRICT_SANITIZATION",
		"AUTO_ARCHIVE_UNMATCHED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SYSTEM_A_BASE_URL", "https://a.example.com")
	t.Setenv("SYSTEM_B_BASE_URL", "https://b.example.com")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.SystemARateHz != 2.0 {
		t.Errorf("SystemARateHz = %v, want 2.0", c.SystemARateHz)
	}
	if c.SystemBRateHz != 3.0 {
		t.Errorf("SystemBRateHz = %v, want 3.0", c.SystemBRateHz)
	}
	if c.BatchSize != 5 {
		t.Errorf("BatchSize = %v, want 5", c.BatchSize)
	}
	if c.RetryMaxRetries != 3 {
		t.Errorf("RetryMaxRetries = %v, want 3", c.RetryMaxRetries)
	}
	if c.StrictSanitization {
		t.Error("StrictSanitization should default to false")
	}
	if !c.AutoArchiveUnmatched {
		t.Error("AutoArchiveUnmatched should default to true")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when required settings are missing")
	}
}

func TestValidate_RejectsNonPositiveRate(t *testing.T) {
	c := Config{
		DatabaseURL: "x", SystemABaseURL: "x", SystemBBaseURL: "x",
		SystemARateHz: 0, SystemBRateHz: 1, BatchSize: 1,
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a zero rate limit")
	}
}
