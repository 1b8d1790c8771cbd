package main

import (
	"os"

	"github.com/alpacahq/tracelog/cmd"
	"github.com/alpacahq/tracelog/utils/log"
)

func main() {
	err := cmd.Execute()
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}
