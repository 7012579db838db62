// Package profile publishes and discovers the relay's listening port
// through a file in the browser profile directory.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PortFileName is the well-known file sibling processes read.
const PortFileName = "extension_port.txt"

// ErrNoPort is returned when the port file does not exist yet.
var ErrNoPort = errors.New("profile: port not published")

// PortFile returns the path of the port file inside dir.
func PortFile(dir string) string {
	return filepath.Join(dir, PortFileName)
}

// WritePort writes port as decimal text. The file is replaced atomically
// so readers never observe a partial value.
func WritePort(dir string, port int) error {
	path := PortFile(dir)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(strconv.Itoa(port)), 0644); err != nil {
		return fmt.Errorf("write port file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("publish port file: %w", err)
	}
	return nil
}

// ReadPort reads the port published in dir.
func ReadPort(dir string) (int, error) {
	data, err := os.ReadFile(PortFile(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoPort
		}
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("profile: invalid port %q", string(data))
	}
	return port, nil
}
