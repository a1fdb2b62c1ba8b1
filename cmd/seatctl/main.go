// seatctl is the command-line client for ckd.
package main

import "github.com/consolekit-go/ckd/cmd/seatctl/commands"

func main() {
	commands.Execute()
}
