package main

import (
	"path/filepath"
	"testing"
)

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	t.Setenv("HABITLOOP_STATE_DIR", "")
	t.Setenv("WEEKLY_SCHEDULE", "")
	t.Setenv("WHATSMEOW_ENABLE", "")

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("state dir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	if config.WeeklyCron != DefaultWeeklyCron {
		t.Errorf("weekly cron = %q, want %q", config.WeeklyCron, DefaultWeeklyCron)
	}
	if config.WhatsmeowOn {
		t.Error("whatsmeow must default to disabled")
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	t.Setenv("HABITLOOP_STATE_DIR", filepath.Join("/tmp", "hl-test"))
	t.Setenv("WEEKLY_SCHEDULE", "0 9 * * 1")
	t.Setenv("WHATSMEOW_ENABLE", "yes")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	config := loadEnvironmentConfig()
	if config.StateDir != "/tmp/hl-test" {
		t.Errorf("state dir = %q", config.StateDir)
	}
	if config.WeeklyCron != "0 9 * * 1" {
		t.Errorf("weekly cron = %q", config.WeeklyCron)
	}
	if !config.WhatsmeowOn {
		t.Error("WHATSMEOW_ENABLE=yes not honored")
	}
	if config.TelegramToken != "123:abc" {
		t.Errorf("telegram token = %q", config.TelegramToken)
	}
}
