//go:build integration

package clickhouse

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmdrakib/2048TX/pkg/utils"
)

var testClickHouseClient Client

// loadTestEnv loads .env.test next to this file when present.
func loadTestEnv() error {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return nil
	}
	return godotenv.Load(filepath.Join(filepath.Dir(currentFile), ".env.test"))
}

// TestMain requires a running ClickHouse; tests fail rather than skip.
func TestMain(m *testing.M) {
	if err := loadTestEnv(); err != nil {
		log.Printf("integration: could not load .env.test: %v (using defaults)", err)
	}

	cfg, err := Load()
	if err != nil {
		log.Fatalf("integration: %v", err)
	}
	cfg.DialTimeout = 5 * time.Second

	sugar, err := utils.NewSugaredLogger(true)
	if err != nil {
		log.Fatalf("integration: failed to create logger: %v", err)
	}

	testClickHouseClient, err = New(cfg, sugar)
	if err != nil {
		log.Fatalf("integration: failed to open ClickHouse connection: %v", err)
	}

	code := m.Run()
	_ = testClickHouseClient.Close()
	os.Exit(code)
}

func TestClient_PingLive(t *testing.T) {
	require.NotNil(t, testClickHouseClient)
	assert.NoError(t, testClickHouseClient.Ping(context.Background()))
}

func TestNew_BadCredentials(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Username = "invaliduser"
	cfg.Password = "invalidpass"

	sugar, err := utils.NewSugaredLogger(true)
	require.NoError(t, err)

	c, err := New(cfg, sugar)
	require.Error(t, err)
	assert.Nil(t, c)
}
