package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	clamd "github.com/dutchcoders/go-clamd"
	"go.uber.org/zap"
)

// ErrInfected is returned by Scan when clamd reports a signature match.
var ErrInfected = errors.New("file is infected")

// Scanner checks an upload before it reaches the blob store.
type Scanner interface {
	Scan(ctx context.Context, r io.Reader) error
}

type clamdClient interface {
	ScanStream(r io.Reader, abort chan bool) (chan *clamd.ScanResult, error)
}

// ClamAVScanner streams uploads to a clamd daemon.
type ClamAVScanner struct {
	client clamdClient
	logger *zap.Logger
}

// NewClamAVScanner takes a clamd address such as tcp://clamav:3310.
func NewClamAVScanner(address string, logger *zap.Logger) *ClamAVScanner {
	return &ClamAVScanner{client: clamd.NewClamd(address), logger: logger.Named("clamav")}
}

func (s *ClamAVScanner) Scan(ctx context.Context, r io.Reader) error {
	// clamd keeps the connection open until abort is closed.
	abort := make(chan bool)
	var once sync.Once
	stop := func() { once.Do(func() { close(abort) }) }
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("failed to scan stream: %w", err)
	}

	var scanErr error
	for res := range results {
		switch res.Status {
		case clamd.RES_FOUND:
			s.logger.Warn("virus detected", zap.String("signature", res.Description))
			scanErr = fmt.Errorf("%w: %s", ErrInfected, res.Description)
		case clamd.RES_ERROR, clamd.RES_PARSE_ERROR:
			if scanErr == nil {
				scanErr = fmt.Errorf("clamd returned %s: %s", res.Status, res.Raw)
			}
		}
	}
	if scanErr != nil {
		return scanErr
	}
	return ctx.Err()
}

// NopScanner accepts everything.
type NopScanner struct{}

func (NopScanner) Scan(context.Context, io.Reader) error { return nil }
