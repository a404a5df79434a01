package main

import (
	"fmt"
	"os"

	"github.com/jesushzv/cars-trends-tool/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "carstrends: %v\n", err)
		os.Exit(1)
	}
}
