// Command ekipick is the terminal client of the EkiPick recommendation service. It sends the
// user's request and plays back the agents' streamed replies.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
