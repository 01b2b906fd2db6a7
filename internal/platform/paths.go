package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

// Mode selects the path layout for the execution context.
type Mode int

const (
	// ModeApp is the packaged desktop application layout.
	ModeApp Mode = iota
	// ModeCLI is the standalone command-line tool layout.
	ModeCLI
)

// Environment variable overrides for the standalone tool.
const (
	EnvDataDir   = "YTSCRIBE_DATA_DIR"
	EnvOutputDir = "YTSCRIBE_OUTPUT_DIR"
)

const appName = "ytscribe"

// Paths holds the four directories the rest of the system works in.
// Resolution is deterministic for a given OS + environment; creating the
// directories is the caller's responsibility.
type Paths struct {
	BinDir    string
	ModelDir  string
	OutputDir string
	TempDir   string
}

// Resolve returns the directory layout for the given mode. It never fails:
// when even the home directory is unknown it falls back to relative paths
// under the working directory.
func Resolve(mode Mode) Paths {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	var dataDir string
	switch mode {
	case ModeApp:
		dataDir = appDataDir(home)
	default:
		dataDir = filepath.Join(home, "."+appName)
		if override := os.Getenv(EnvDataDir); override != "" {
			dataDir = override
		}
	}

	return Paths{
		BinDir:    filepath.Join(dataDir, "bin"),
		ModelDir:  filepath.Join(dataDir, "models"),
		OutputDir: defaultOutputDir(home),
		TempDir:   filepath.Join(dataDir, "tmp"),
	}
}

// appDataDir follows each OS's application-data convention.
func appDataDir(home string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(home, "AppData", "Roaming", appName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(home, ".local", "share", appName)
	}
}

// defaultOutputDir prefers ~/Downloads when it exists, else the working
// directory. Only a best dev-time guess; jobs can point anywhere.
func defaultOutputDir(home string) string {
	if override := os.Getenv(EnvOutputDir); override != "" {
		return override
	}

	downloads := filepath.Join(home, "Downloads")
	if info, err := os.Stat(downloads); err == nil && info.IsDir() {
		return downloads
	}

	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// LogFile is where the leveled logger writes inside the data directory.
func (p Paths) LogFile() string {
	return filepath.Join(filepath.Dir(p.BinDir), appName+".log")
}
