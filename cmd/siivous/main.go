// siivous - policy-driven cloud resource sweeper.
// Stamp. Expire. Sweep.
package main

import "os"

func main() {
	os.Exit(Execute())
}
