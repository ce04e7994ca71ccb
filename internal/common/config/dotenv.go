package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadEnvFile copies KEY=value pairs from a .env file into the process
// environment. Variables already present in the environment win, so an
// operator can always override the file from the shell.
// Side effects: writes to the process environment via os.Setenv.
func LoadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		value = strings.Trim(value, `"'`)

		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// LoadEnvFileIfExists loads a .env file if it exists, otherwise does nothing.
// Side effects: writes to the process environment if the file is present.
func LoadEnvFileIfExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return LoadEnvFile(path)
}
