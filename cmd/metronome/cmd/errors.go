package cmd

import "fmt"

// exitError ends the process with code once the summary has been printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
