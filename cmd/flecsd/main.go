// Command flecsd runs the flecs instance daemon: HTTP API, quest scheduler,
// and deployment adapters in one process (spec §1/§6).
package main

import "github.com/scoutflo/flecsd-core/cmd/flecsd/cmd"

func main() {
	cmd.Execute()
}
