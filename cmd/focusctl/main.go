// focusctl - command line client for focusd.
package main

import "github.com/ashureev/focus-labs/internal/cli"

func main() {
	cli.Execute()
}
