// Command streamload opens many concurrent subscriptions to the dashboard's
// overview stream and reports what arrives.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	URL         string
	Conns       int
	Duration    time.Duration
	RampUp      time.Duration
	LastEventID string
}

// stats are updated concurrently by every subscriber.
type stats struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	overviews   atomic.Int64
	updates     atomic.Int64
	noData      atomic.Int64
	heartbeats  atomic.Int64
}

func (s *stats) String() string {
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d overview=%d update=%d no_data=%d heartbeats=%d",
		s.connected.Load(), s.connectErrs.Load(), s.streamErrs.Load(),
		s.overviews.Load(), s.updates.Load(), s.noData.Load(), s.heartbeats.Load())
}

func (s *stats) count(event string) {
	switch event {
	case "overview":
		s.overviews.Add(1)
	case "update":
		s.updates.Add(1)
	case "no_data":
		s.noData.Add(1)
	}
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:   "streamload",
		Short: "Load test the dashboard overview stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := run(ctx, opts, logger)
			if err != nil {
				return err
			}
			fmt.Println("done:", st.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8090/overview/stream", "overview stream URL")
	cmd.Flags().IntVar(&opts.Conns, "conns", 1000, "number of concurrent subscriptions")
	cmd.Flags().DurationVar(&opts.Duration, "dur", 60*time.Second, "test duration (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.RampUp, "ramp", 0, "spread subscription starts across this window")
	cmd.Flags().StringVar(&opts.LastEventID, "last-event-id", "", "resume every subscription after this snapshot index")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) (*stats, error) {
	if opts.Conns <= 0 {
		return nil, errors.Errorf("invalid conns: %d", opts.Conns)
	}
	if opts.RampUp == 0 && opts.Conns > 100 {
		// one second per 500 subscriptions
		opts.RampUp = time.Duration(opts.Conns/500) * time.Second
		if opts.RampUp < time.Second {
			opts.RampUp = time.Second
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	logger.Info("starting stream load",
		zap.String("url", opts.URL),
		zap.Int("conns", opts.Conns),
		zap.Duration("duration", opts.Duration),
		zap.Duration("ramp", opts.RampUp))

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     opts.Conns + 100,
			MaxIdleConns:        opts.Conns + 100,
			MaxIdleConnsPerHost: opts.Conns + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	st := &stats{}
	start := time.Now()

	var interval time.Duration
	if opts.RampUp > 0 {
		interval = opts.RampUp / time.Duration(opts.Conns)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("status", zap.String("stats", st.String()), zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < opts.Conns && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			subscribe(ctx, client, opts, st)
		}()
	}

	wg.Wait()
	return st, nil
}

func subscribe(ctx context.Context, client *http.Client, opts options, st *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if opts.LastEventID != "" {
		req.Header.Set("Last-Event-ID", opts.LastEventID)
	}

	resp, err := client.Do(req)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st.connectErrs.Add(1)
		return
	}
	st.connected.Add(1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				st.streamErrs.Add(1)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, ":"):
			st.heartbeats.Add(1)
		case strings.HasPrefix(line, "event:"):
			st.count(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		}
	}
}
