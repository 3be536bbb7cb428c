/*
2025 Helvethink <technical@helvethink.ch>
*/
package main

import (
	"os"

	"github.com/helvethink/release-orchestrator/internal/cli"
)

var version = "devel"

func main() {
	cli.Run(version, os.Args)
}
