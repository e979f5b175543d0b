//go:build tools
// +build tools

package main

// code generation and lint tooling, install with go install
import (
	_ "github.com/alvaroloes/enumer"
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"
)
