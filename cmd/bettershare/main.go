// Command bettershare reads and edits link sharing preferences, rewrites
// links with them, and serves the settings API.
//
// Usage:
//
//	bettershare [--backend file|sqlite|keyring|ssm|s3|memory] <command>
//
// Commands:
//
//	get      Print the current preferences
//	set      Change the preference for one site
//	reset    Restore the default preferences
//	share    Rewrite a link for sharing
//	watch    Print preferences every time they change
//	serve    Serve the settings API over HTTP
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
