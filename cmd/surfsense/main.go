package main

import (
	"os"

	"github.com/MODSetter/SurfSense-sub000/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
