// Upload files and folder trees to a PhoeStorage server
package main

import (
	"github.com/ianusa/phoeup/cmd"
	_ "github.com/ianusa/phoeup/cmd/all" // import all commands
)

func main() {
	cmd.Main()
}
