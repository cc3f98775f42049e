package bgapi

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoDongle is returned by FindDongle when no radio is attached.
var ErrNoDongle = errors.New("bgapi: no BLED112 dongle found")

var dongleNames = []string{"Bluegiga", "Low_Energy_Dongle", "Low Energy Dongle"}

// FindDongles lists serial ports that look like BGAPI dongles.
func FindDongles() ([]string, error) {
	var ports []string
	switch runtime.GOOS {
	case "linux":
		ids, err := filepath.Glob("/dev/serial/by-id/*")
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !isDongleName(filepath.Base(id)) {
				continue
			}
			dev, err := filepath.EvalSymlinks(id)
			if err != nil {
				dev = id
			}
			ports = append(ports, dev)
		}
	case "darwin":
		m, err := filepath.Glob("/dev/cu.usbmodem*")
		if err != nil {
			return nil, err
		}
		ports = m
	default:
		return nil, errors.Errorf("bgapi: dongle lookup not supported on %s", runtime.GOOS)
	}
	sort.Strings(ports)
	return ports, nil
}

// FindDongle returns the first dongle found.
func FindDongle() (string, error) {
	ports, err := FindDongles()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", ErrNoDongle
	}
	return ports[0], nil
}

func isDongleName(s string) bool {
	for _, n := range dongleNames {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
