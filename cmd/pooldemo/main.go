// Command pooldemo builds a respool pool of strings standing in for an
// expensive resource from a YAML profile and periodically prints how many
// resources its allocator has produced. It does not acquire from the pool
// itself; allocations come only from the profile's initial size.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/respool/asyncpool"
	respoolconfig "github.com/coachpo/respool/config"
	"github.com/coachpo/respool/metrics"
	"github.com/coachpo/respool/pool"
)

const (
	defaultProfilePath = "profile.yaml"
	demoLoggerPrefix   = "pooldemo "
	statsInterval      = 2 * time.Second
	asyncDeliveryQueue = 64
)

func main() {
	profilePathFlag, asyncWorkersFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newDemoLogger()

	profile, err := loadProfile(ctx, profilePathFlag)
	if err != nil {
		logger.Fatalf("load profile: %v", err)
	}
	logger.Printf("profile loaded: strategy=%s maxPending=%d ordering=%s",
		profile.Strategy.Kind, profile.MaxPending, profile.Ordering)

	_, shutdownMetrics, err := metrics.Init(ctx, metrics.Config{
		OTLPEndpoint: os.Getenv("POOLDEMO_OTLP_ENDPOINT"),
		ServiceName:  "pooldemo",
	})
	if err != nil {
		logger.Fatalf("init metrics: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Printf("metrics shutdown: %v", err)
		}
	}()

	var allocated atomic.Int64
	builder := pool.From(func(context.Context) (string, error) {
		allocated.Add(1)
		return uuid.NewString(), nil
	})
	builder = respoolconfig.ApplyTo(builder, profile)

	var deliveryWorkers *asyncpool.Pool
	if asyncWorkersFlag > 0 {
		deliveryWorkers, err = asyncpool.NewPool(asyncWorkersFlag, asyncDeliveryQueue)
		if err != nil {
			logger.Fatalf("build delivery worker pool: %v", err)
		}
		builder = builder.WithScheduler(deliveryWorkers.Scheduler())
		logger.Printf("delivering acquisitions off the drain goroutine: workers=%d", asyncWorkersFlag)
	}

	poolCfg, err := builder.Build()
	if err != nil {
		logger.Fatalf("build pool config: %v", err)
	}
	p := pool.New(poolCfg)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	logger.Printf("pool running, press ctrl-c to stop")
	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutting down")
			disposeCtx, disposeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer disposeCancel()
			if err := p.Dispose(disposeCtx); err != nil {
				logger.Printf("dispose: %v", err)
			}
			if deliveryWorkers != nil {
				if err := deliveryWorkers.Shutdown(disposeCtx); err != nil {
					logger.Printf("delivery worker shutdown: %v", err)
				}
			}
			return
		case <-ticker.C:
			printStats(logger, allocated.Load())
		}
	}
}

type stats struct {
	Allocated int64 `json:"allocated"`
}

func printStats(logger *log.Logger, allocated int64) {
	out, err := json.Marshal(stats{Allocated: allocated})
	if err != nil {
		logger.Printf("marshal stats: %v", err)
		return
	}
	logger.Printf("stats %s", out)
}

func parseFlags() (string, int) {
	path := flag.String("profile", "", fmt.Sprintf("Path to pool profile YAML file (default: %s)", defaultProfilePath))
	asyncWorkers := flag.Int("async-delivery-workers", 0,
		"if >0, deliver acquisitions through an asyncpool.Pool of this many workers instead of the immediate scheduler")
	flag.Parse()
	return *path, *asyncWorkers
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newDemoLogger() *log.Logger {
	return log.New(os.Stdout, demoLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func loadProfile(ctx context.Context, flagValue string) (respoolconfig.Profile, error) {
	path := flagValue
	if path == "" {
		path = defaultProfilePath
	}
	profile, err := respoolconfig.Load(ctx, path)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return respoolconfig.Default(), nil
		}
		return respoolconfig.Profile{}, err
	}
	return profile, nil
}
