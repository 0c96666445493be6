package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const (
	ExitError  = 1
	ExitConfig = 2
	ExitBus    = 3
)

// Exit formats msg and wraps it with the process exit code.
func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
