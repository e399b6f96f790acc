// cmd/poolbench/main.go
// poolbench is a small, optional demonstration harness for the objpool
// library. It is NOT the kernel benchmark harness the spec excludes from
// scope (no per-core worker pinning, hrtimer ticks, tasklets, or hot-plug
// registration) — it exists to give the library's observability stack
// (tracing, metrics) a runnable caller, the way cmd/server gives the
// teacher's cache/replication/tenant engines one.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agilira/objpool"
	"github.com/agilira/objpool/internal/tracing"
)

func main() {
	count := flag.Int("count", 4096, "number of objects in the pool")
	objsize := flag.Int("objsize", 64, "size in bytes of each embedded object")
	asym := flag.Int("asym", 0, "balance mode: 0 = balanced, 1 = any core holds everything")
	duration := flag.Duration("duration", 2*time.Second, "how long each worker churns pop/push")
	metricsAddr := flag.String("metrics-addr", ":9101", "address to serve /metrics on")
	jaegerEndpoint := flag.String("jaeger-endpoint", "", "Jaeger collector endpoint (empty disables tracing)")
	flag.Parse()

	runID := uuid.New().String()
	fmt.Printf("objpool bench run %s\n", runID)
	fmt.Println("==========================================")
	fmt.Printf("CPUs: %d, GOMAXPROCS: %d\n", runtime.NumCPU(), runtime.GOMAXPROCS(0))

	if *jaegerEndpoint != "" {
		if err := tracing.InitTracing(*jaegerEndpoint); err != nil {
			log.Printf("Warning: failed to initialize tracing: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	fmt.Printf("✓ Metrics: http://localhost%s/metrics\n", *metricsAddr)

	pool, err := objpool.New(objpool.Config{
		Name:       "poolbench",
		Count:      *count,
		ObjectSize: *objsize,
		Asym:       *asym,
		Registerer: reg,
		AllocFlags: objpool.AllocFlags{MaySleep: true},
	})
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}

	fmt.Printf("✓ Pool ready: %d objects, %d cores, %d per slot\n",
		*count, pool.NumCores(), pool.PerSlotCapacity())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runCtx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var ops atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < pool.NumCores(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var local int64
			for {
				select {
				case <-runCtx.Done():
					ops.Add(local)
					return
				default:
				}
				ref, ok := pool.Pop()
				if ok {
					pool.Push(ref)
					local++
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-sigCh:
		fmt.Println("\n🛑 Interrupted, shutting down early...")
		cancel()
		<-done
	}

	fmt.Printf("✓ Completed %d pop/push cycles in %v\n", ops.Load(), *duration)

	finiCtx, finiCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer finiCancel()

	var drained, externalDrained int
	err = pool.Fini(finiCtx, nil, func(_ any, _ unsafe.Pointer, isExternal, isElement bool) {
		if isElement {
			drained++
			if isExternal {
				externalDrained++
			}
		}
	})
	if err != nil {
		log.Printf("fini error: %v", err)
	}
	fmt.Printf("✓ Drained %d objects (%d external) at teardown\n", drained, externalDrained)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
