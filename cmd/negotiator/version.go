package main

import "fmt"

// VersionCmd prints the build version.
type VersionCmd struct{}

// Execute implements flags.Commander.
func (VersionCmd) Execute(_ []string) error {
	fmt.Println("negotiator " + Version)
	return nil
}
