package db

import (
	"context"
	"testing"
)

func TestReadyCheckWithoutPool(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	if err := ReadyCheck(&Pool{})(context.Background()); err == nil {
		t.Fatalf("expected error for empty pool")
	}
}

func TestOpenRejectsBadURL(t *testing.T) {
	if _, err := Open(context.Background(), "://not-a-url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCloseNil(t *testing.T) {
	var p *Pool
	p.Close()
	(&Pool{}).Close()
}
