// Package all imports all the commands
package all

import (
	// Active commands
	_ "github.com/ianusa/phoeup/cmd/mkdir"
	_ "github.com/ianusa/phoeup/cmd/upload"
)
