// Command command is the command plugin. Install it into the services directory.
package main

import (
	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/builtin/command"
)

func main() {
	builtin.Run(command.Plugin())
}
