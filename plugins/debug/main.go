// Command debug is the debug plugin. Install it into the services directory.
package main

import (
	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/builtin/debug"
)

func main() {
	builtin.Run(debug.Plugin())
}
