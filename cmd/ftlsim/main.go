// Command ftlsim runs the FTL core against a synthetic block device so its
// behavior can be exercised and observed without real flash hardware.
package main

import "github.com/VazKrishnan/lightnvm/cmd/ftlsim/cmd"

func main() {
	cmd.Execute()
}
