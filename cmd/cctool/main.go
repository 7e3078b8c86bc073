// Command cctool decodes and encodes command class payloads without a
// controller attached.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
