package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/pkg/config"
)

func TestStartConsumerWaitsForReturn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool
	wait := startConsumer(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		// a message still being saved when shutdown begins
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	cancel()
	wait()
	if !finished.Load() {
		t.Fatal("wait returned before the consumer finished")
	}
}

func TestNewServerTimeouts(t *testing.T) {
	cfg := config.ServerConfig{ReadTimeout: 5 * time.Second, WriteTimeout: 45 * time.Second}
	srv := newServer(":0", http.NotFoundHandler(), cfg)
	if srv.ReadTimeout != cfg.ReadTimeout || srv.WriteTimeout != cfg.WriteTimeout {
		t.Errorf("read %s write %s, want %s and %s", srv.ReadTimeout, srv.WriteTimeout, cfg.ReadTimeout, cfg.WriteTimeout)
	}
}
