//go:build !unix

package runner

import (
	"os"
	"os/exec"
)

func setProcAttr(cmd *exec.Cmd) {}

// Without process groups there is no graceful signal; both steps kill.
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}

func exitSignal(ps *os.ProcessState) (string, bool) {
	return "", false
}
