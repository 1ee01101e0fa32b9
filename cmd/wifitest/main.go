package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ensureRoot re-executes the program with sudo if not running as root.
// Interface mutation, supplicant control, and routing changes all need it.
func ensureRoot() {
	if os.Geteuid() == 0 {
		return
	}

	// Skip sudo for commands that only read state
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" || arg == "help" ||
			arg == "completion" || arg == "interfaces" || arg == "check" ||
			arg == "--version" || arg == "-v" {
			return
		}
	}

	executable, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine executable path: %v\n", err)
		os.Exit(1)
	}

	sudoPath, err := exec.LookPath("sudo")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: root required and sudo not found: %v\n", err)
		os.Exit(1)
	}

	args := append([]string{"sudo", executable}, os.Args[1:]...)
	if err := syscall.Exec(sudoPath, args, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to execute sudo: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	ensureRoot()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
