// The main package for the scanner executable.
package main

import (
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/cmd"
)

func main() {
	cmd.Execute()
}
