package console

import (
	"errors"

	"github.com/fatih/color"

	"github.com/mklimuk/sharedbus"
)

var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
)

// Failure colors a bus error by kind: a device that did not answer is yellow, anything
// pointing at the transport itself is red.
func Failure(err error) string {
	switch {
	case err == nil:
		return Green("ok")
	case errors.Is(err, sharedbus.ErrNoAcknowledge), errors.Is(err, sharedbus.ErrMalformedResponse):
		return Yellow(err)
	}
	return Red(err)
}
