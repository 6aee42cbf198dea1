// Command nodalyncd is the Nodalync node CLI/daemon entrypoint: it wires
// cmd/cli's command tree (identity, content, access, channel,
// distribution, peer, serve) onto a single cobra root.
package main

import (
	"fmt"
	"os"

	"nodalync/cmd/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
