//go:build unix

package control

import (
	"os/exec"
	"syscall"
)

// detach places the server in its own session so it survives terminal
// and parent exits.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
