package main

import (
	"metronome/cmd/metronome/cmd"
)

func main() {
	cmd.Execute()
}
