//go:build integration

package testutil

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync/atomic"
	"testing"

	"golang.org/x/sys/unix"
)

// TestNamespace is an isolated network namespace. Each test gets its own so
// DHCP servers and veth plumbing never touch the host network.
type TestNamespace struct {
	Name string
	t    *testing.T
}

// nsCounter disambiguates namespaces created by the same test process
var nsCounter uint64

// NewTestNamespace creates a network namespace that is removed when the test
// finishes
func NewTestNamespace(t *testing.T) *TestNamespace {
	t.Helper()
	SkipIfNotRoot(t)
	SkipIfNoNetNS(t)

	name := fmt.Sprintf("wifitest-%d-%d", unix.Getpid(), atomic.AddUint64(&nsCounter, 1))

	if err := exec.Command("ip", "netns", "add", name).Run(); err != nil {
		t.Fatalf("failed to create network namespace %s: %v", name, err)
	}

	ns := &TestNamespace{Name: name, t: t}
	t.Cleanup(ns.cleanup)

	if err := ns.Exec("ip", "link", "set", "lo", "up"); err != nil {
		t.Fatalf("failed to bring up loopback in namespace: %v", err)
	}

	return ns
}

func (ns *TestNamespace) cleanup() {
	_ = exec.Command("ip", "netns", "del", ns.Name).Run()
}

// Exec runs a command inside the namespace
func (ns *TestNamespace) Exec(name string, args ...string) error {
	_, err := ns.ExecOutput(name, args...)
	return err
}

// ExecOutput runs a command inside the namespace and returns its combined
// output
func (ns *TestNamespace) ExecOutput(name string, args ...string) (string, error) {
	cmdArgs := append([]string{"netns", "exec", ns.Name, name}, args...)
	output, err := exec.Command("ip", cmdArgs...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("command %q in namespace %s failed: %v\noutput: %s",
			name, ns.Name, err, string(output))
	}
	return string(output), nil
}

// Run executes fn with the current thread switched into the namespace.
// The goroutine is locked to its OS thread so setns affects only this call.
func (ns *TestNamespace) Run(fn func()) error {
	nsPath := fmt.Sprintf("/var/run/netns/%s", ns.Name)

	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		fd, err := unix.Open(nsPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			errCh <- fmt.Errorf("failed to open namespace %s: %v", nsPath, err)
			return
		}
		defer unix.Close(fd)

		if err := unix.Setns(fd, unix.CLONE_NEWNET); err != nil {
			errCh <- fmt.Errorf("failed to setns to %s: %v", ns.Name, err)
			return
		}

		fn()
		errCh <- nil
	}()

	return <-errCh
}

// AddVethPair creates a veth pair with one end in this namespace and one on
// the host. The host side stays in the caller's namespace.
func (ns *TestNamespace) AddVethPair(hostName, nsName string) error {
	if err := exec.Command("ip", "link", "add", hostName, "type", "veth", "peer", "name", nsName).Run(); err != nil {
		return fmt.Errorf("failed to create veth pair: %v", err)
	}

	if err := ns.MoveInterface(nsName); err != nil {
		_ = exec.Command("ip", "link", "del", hostName).Run()
		return err
	}

	return nil
}

// MoveInterface moves an existing interface into this namespace
func (ns *TestNamespace) MoveInterface(ifname string) error {
	if err := exec.Command("ip", "link", "set", ifname, "netns", ns.Name).Run(); err != nil {
		return fmt.Errorf("failed to move interface %s to namespace %s: %v", ifname, ns.Name, err)
	}
	return nil
}
