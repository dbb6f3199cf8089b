// Package main is the single-binary entrypoint for Limber.
package main

import "github.com/limber-app/limber/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
