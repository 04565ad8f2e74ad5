// Command disk-space is the disk-space plugin. Install it into the services directory.
package main

import (
	"github.com/jandubois/mon/internal/builtin"
	"github.com/jandubois/mon/internal/builtin/diskspace"
)

func main() {
	builtin.Run(diskspace.Plugin())
}
