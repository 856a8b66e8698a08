package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/VeinDevTtv/vein-smc-bot/config"
)

func main() {
	out := flag.String("out", "config.json", "output file, .yaml or .yml for YAML")
	flag.Parse()

	if err := config.GenerateSampleConfig(*out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write sample config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sample configuration written to %s\n", *out)
}
