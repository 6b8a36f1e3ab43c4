package generator_test

import (
	"context"
	"fmt"

	"metronome/internal/core"
	"metronome/internal/destination"
	"metronome/internal/generator"
	"metronome/internal/progress"
	"metronome/internal/reporting"
	"metronome/internal/transport"
)

func ExampleEngine_Run() {
	tracker, _ := progress.New(core.Iterations(1000))
	sched, _ := reporting.NewScheduler(tracker)

	ips := reporting.NewIterationsPerSecond()
	results := destination.NewMemory()
	_ = ips.RegisterDestination(results, core.Percent(50))
	sched.RegisterReporter(ips)

	pool, _ := transport.NewPool(context.Background(), 4, transport.NewDummyFactory(transport.DummyConfig{FailEvery: 100}))
	defer pool.Close(context.Background())

	engine, _ := generator.New(sched, pool, generator.Config{Threads: 4})

	_ = sched.Start()
	err := engine.Run(context.Background())
	_ = sched.Stop()

	last := results.Last()
	failures, _ := last.Get(core.FailuresResult)
	fmt.Println(err, len(results.Measurements()), last.Percentage, last.Iteration+1, failures)
	// Output: <nil> 2 100 1000 10
}
