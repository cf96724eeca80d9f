package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/feedwire/pkg/channel"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/ring"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

func main() {
	origin := flag.String("origin", "http://localhost:3000", "feed server origin")
	n := flag.Int("n", 5000, "commands")
	conc := flag.Int("c", 32, "concurrency")
	url := flag.String("url", "http://example.com", "url to discover")
	timeout := flag.Duration("timeout", 10*time.Second, "per-command timeout")
	flag.Parse()

	wsURL, err := channel.EndpointURL(*origin, channel.DefaultPath)
	if err != nil {
		log.Fatal(err)
	}
	endpoints := ring.New(0, nil)
	endpoints.Add("bench", wsURL)

	store := state.NewStore(state.Initial(), nil)
	client := channel.NewClient(store, channel.Config{
		Endpoints:      endpoints,
		CommandTimeout: *timeout,
		Logger:         zap.NewNop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
	_, err = store.WaitFor(wctx, func(s state.ApplicationState) bool { return s.ConnectionState == state.Open })
	wcancel()
	if err != nil {
		log.Fatalf("channel did not open at %s: %v", wsURL, err)
	}

	var (
		mu        sync.Mutex
		outcomes  = map[string]int{}
		latencies = make([]time.Duration, 0, *n)
	)
	g := new(errgroup.Group)
	g.SetLimit(*conc)
	start := time.Now()
	for i := 0; i < *n; i++ {
		g.Go(func() error {
			t0 := time.Now()
			res, err := client.Call(ctx, protocol.NewDiscover([]string{*url}))
			outcome := "ok"
			switch {
			case err != nil:
				outcome = "send_error"
			case !res.OK():
				outcome = res.Reason
			}
			mu.Lock()
			outcomes[outcome]++
			latencies = append(latencies, time.Since(t0))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	dur := time.Since(start)

	cancel()
	<-done

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("Completed %d commands in %s (%.2f cmd/s)\n", *n, dur, float64(*n)/dur.Seconds())
	if len(latencies) > 0 {
		fmt.Printf("p50=%s p99=%s\n", latencies[len(latencies)/2], latencies[len(latencies)*99/100])
	}
	for k, v := range outcomes {
		fmt.Printf("  %-16s %d\n", k, v)
	}
}
