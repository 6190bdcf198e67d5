package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/manpreetbhatti/easel/internal/config"
)

func TestOpenArchive(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.ArchiveConfig
		wantStore bool
		wantDB    bool
	}{
		{"sqlite", config.ArchiveConfig{Driver: config.DriverSQLite, Path: ":memory:"}, true, true},
		{"s3", config.ArchiveConfig{Driver: config.DriverS3, S3: config.S3Config{Bucket: "b", Region: "us-east-1"}}, true, false},
		{"none", config.ArchiveConfig{Driver: config.DriverNone}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openArchive(tt.cfg, nil)
			if err != nil {
				t.Fatalf("openArchive failed: %v", err)
			}
			defer store.Close()

			if (store.Archive != nil) != tt.wantStore {
				t.Errorf("Expected archive present=%v, got %v", tt.wantStore, store.Archive != nil)
			}
			if (store.database != nil) != tt.wantDB {
				t.Errorf("Expected database present=%v, got %v", tt.wantDB, store.database != nil)
			}
		})
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("Expected %q, got %q", version, out.String())
	}
}
