package logger

import "testing"

func TestShouldLogRespectsMinLevel(t *testing.T) {
	sl := NewSystemLogger(nil, SystemLoggerConfig{MinLevel: LevelWarn})

	if sl.shouldLog(LevelDebug) || sl.shouldLog(LevelInfo) {
		t.Error("levels below warn should be suppressed")
	}
	if !sl.shouldLog(LevelWarn) || !sl.shouldLog(LevelError) || !sl.shouldLog(LevelFatal) {
		t.Error("warn and above should pass")
	}
}

func TestExtractComponent(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"/srv/paygate/provider/netopia/netopia.go", "provider/netopia"},
		{"/srv/paygate/handler/webhook.go", "handler"},
		{"/srv/paygate/infra/config/conf.go", "infra/config"},
		{"/tmp/scratch/main.go", "scratch"},
	}
	for _, tt := range tests {
		if got := extractComponent(tt.file); got != tt.want {
			t.Errorf("extractComponent(%q) = %q, want %q", tt.file, got, tt.want)
		}
	}
}

func TestOpenSearchDisabledWithoutSink(t *testing.T) {
	sl := NewSystemLogger(nil, SystemLoggerConfig{EnableOpenSearch: true, MinLevel: LevelInfo})
	if sl.enableOpenSearch {
		t.Error("opensearch logging must stay off when no sink is configured")
	}
}
