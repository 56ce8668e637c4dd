// Command ellen receives Gorilla/Ivar facial-recognition notifications and
// keeps them in a spreadsheet or SQLite backing store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
