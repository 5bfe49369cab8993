package paths

import (
	"os"
	"path/filepath"
)

// DataDir returns the repeater data directory, following XDG conventions:
// $XDG_DATA_HOME/repeater or ~/.local/share/repeater as fallback.
func DataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ConfigDir returns $XDG_CONFIG_HOME/repeater or ~/.config/repeater.
func ConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

func xdgDir(env, fallback string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, fallback)
	}
	return filepath.Join(base, "repeater"), nil
}
