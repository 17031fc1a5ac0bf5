// Package main is the entry point for the SAP QA scheduler server.
package main

import (
	"os"

	"github.com/Azure/sap-automation-qa/cmd/scheduler/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
