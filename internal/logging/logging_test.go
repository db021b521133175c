package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(test *testing.T) {
	test.Parallel()
	cases := []struct {
		raw     string
		want    zapcore.Level
		wantErr bool
	}{
		{raw: "", want: zapcore.InfoLevel},
		{raw: " DEBUG ", want: zapcore.DebugLevel},
		{raw: "warn", want: zapcore.WarnLevel},
		{raw: "loud", wantErr: true},
	}
	for _, testCase := range cases {
		level, err := parseLevel(testCase.raw)
		if testCase.wantErr {
			if err == nil {
				test.Fatalf("expected error for %q", testCase.raw)
			}
			continue
		}
		if err != nil {
			test.Fatalf("parse %q: %v", testCase.raw, err)
		}
		if level != testCase.want {
			test.Fatalf("parse %q: expected %s, got %s", testCase.raw, testCase.want, level)
		}
	}
}

func TestNewWritesRotatedFile(test *testing.T) {
	test.Parallel()
	path := filepath.Join(test.TempDir(), "settlementd.log")
	logger, err := New(Config{Level: "info", FilePath: path})
	if err != nil {
		test.Fatalf("new: %v", err)
	}
	logger.Info("ledger ready")
	logger.Debug("hidden")
	_ = logger.Sync()

	contents, err := os.ReadFile(path)
	if err != nil {
		test.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(contents), `"msg":"ledger ready"`) {
		test.Fatalf("expected info line, got %s", contents)
	}
	if strings.Contains(string(contents), "hidden") {
		test.Fatalf("debug line should be filtered")
	}
}

func TestRotatorDefaults(test *testing.T) {
	test.Parallel()
	rotator := newRotator(Config{FilePath: "x.log"})
	if rotator.MaxSize != defaultMaxSizeMB || rotator.MaxBackups != defaultMaxBackups || rotator.MaxAge != defaultMaxAgeDays {
		test.Fatalf("unexpected defaults %+v", rotator)
	}
}
