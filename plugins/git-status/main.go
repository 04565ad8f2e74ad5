// Command git-status is the git-status plugin. Install it into the services directory.
package main

import (
	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/builtin/gitstatus"
)

func main() {
	builtin.Run(gitstatus.Plugin())
}
