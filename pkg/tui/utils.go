package tui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"energon/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
)

func (m model) maskAddress(addr string) string {
	if m.privacyMode {
		return "0x**...**"
	}
	if !common.IsHexAddress(addr) {
		return addr
	}
	if m.width > 0 && m.width < 80 {
		return utils.ShortAddress(common.HexToAddress(addr))
	}
	return addr
}

func (m model) maskString(s string) string {
	if m.privacyMode {
		return "****"
	}
	return s
}

// explorerTxURL is empty when no explorer is configured.
func explorerTxURL(base, hash string) string {
	if base == "" || hash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(base, "/"), hash)
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}
