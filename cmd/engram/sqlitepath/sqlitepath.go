package sqlitepath

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

func ResolveSQLitePath(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if envPath := strings.TrimSpace(os.Getenv("ENGRAM_SQLITE")); envPath != "" {
		return envPath, nil
	}
	if envPath := strings.TrimSpace(os.Getenv("ENGRAM_DB")); envPath != "" {
		return envPath, nil
	}

	for _, candidate := range sqliteCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", errors.New("could not find engram SQLite database; pass --sqlite")
}

func sqliteCandidates() []string {
	candidates := []string{
		"engram.db",
		"engram.sqlite",
		filepath.Join(".engram", "engram.db"),
		filepath.Join(".engram", "engram.sqlite"),
	}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append([]string{
			filepath.Join(home, ".engram", "engram.db"),
			filepath.Join(home, ".engram", "engram.sqlite"),
		}, candidates...)
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append([]string{
			filepath.Join(xdgHome, "engram", "engram.db"),
			filepath.Join(xdgHome, "engram", "engram.sqlite"),
		}, candidates...)
	}

	return candidates
}
