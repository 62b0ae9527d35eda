//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
)

func configureProcAttr(cmd *exec.Cmd) {}

// terminateTree has no graceful mode on Windows; taskkill /T takes the children too.
func terminateTree(p *os.Process, force bool) error {
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(p.Pid))
	if err := kill.Run(); err != nil {
		if killErr := p.Kill(); killErr != nil {
			return killErr
		}
	}
	return nil
}
