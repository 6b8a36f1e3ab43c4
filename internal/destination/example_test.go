package destination_test

import (
	"os"
	"time"

	"metronome/internal/core"
	"metronome/internal/destination"
)

func ExampleConsole() {
	c := destination.NewConsole("")
	c.SetOutput(os.Stdout)

	m := core.NewMeasurement(50, 90*time.Second, 499)
	m.SetResult(core.Quantity{Number: 1250, Unit: "iterations/s"})
	_ = c.Report(m)
	// Output:
	// [0:01:30][500 iterations][50%] [1250 iterations/s]
}
