package ratelimit_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	"metronome/internal/config"
	"metronome/internal/ratelimit"
)

func ExampleNewRateLimiter() {
	// Create a rate limiter allowing 100 iterations per second
	limiter := ratelimit.NewRateLimiter(100)

	ctx := context.Background()

	// Wait for permission before dispatching an iteration
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(ctx); err != nil {
			fmt.Println("Context cancelled")
			return
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("5 iterations admitted in under 100ms: %v\n", elapsed < 100*time.Millisecond)
	// Output: 5 iterations admitted in under 100ms: true
}

func ExampleProfile_At() {
	entries, err := ratelimit.ParseCSV(strings.NewReader("0;1;10\n1000;5;50\n"))
	if err != nil {
		fmt.Println(err)
		return
	}
	profile, err := ratelimit.NewProfile(entries, false)
	if err != nil {
		fmt.Println(err)
		return
	}

	e := profile.At(1500)
	fmt.Printf("threads=%d speed=%v\n", e.Threads, e.Speed)
	// Output: threads=5 speed=50
}

func ExampleFromPhases() {
	phases := []config.Phase{
		{Name: "ramp_up", Duration: 2 * time.Second, StartActors: 1, EndActors: 10},
		{Name: "steady", Duration: 30 * time.Second, Actors: 10, RPS: 100},
	}

	entries, total, _ := ratelimit.FromPhases(phases)
	fmt.Printf("%d entries over %v\n", len(entries), total)
	// Output: 3 entries over 32s
}
