// Package catalog is the static table of downloadable artifacts: which
// binary a given OS/arch combination gets, and the supported whisper models.
package catalog

import (
	"fmt"
	"runtime"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

// Artifact describes one platform-specific download.
type Artifact struct {
	URL        string
	Archive    bool   // zip or tar.gz that must be extracted
	BinaryName string // executable name inside the bin dir
}

// Model is one officially supported whisper.cpp model.
type Model struct {
	Name      string
	FileName  string
	URL       string
	SizeLabel string
}

type platformKey struct {
	goos string
	arch string
}

// Catalog resolves tools and models to download locations. Construct one per
// execution context and pass it down; there is no package-level instance.
type Catalog struct {
	tools  map[domain.Tool]map[platformKey]Artifact
	models []Model
}

// New returns the production catalog.
func New() *Catalog {
	return &Catalog{
		tools: map[domain.Tool]map[platformKey]Artifact{
			domain.ToolFetcher: {
				{"darwin", "amd64"}:  {URL: "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_macos", BinaryName: "yt-dlp"},
				{"darwin", "arm64"}:  {URL: "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_macos", BinaryName: "yt-dlp"},
				{"linux", "amd64"}:   {URL: "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux", BinaryName: "yt-dlp"},
				{"linux", "arm64"}:   {URL: "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64", BinaryName: "yt-dlp"},
				{"windows", "amd64"}: {URL: "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp.exe", BinaryName: "yt-dlp.exe"},
				{"windows", "arm64"}: {URL: "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp.exe", BinaryName: "yt-dlp.exe"},
			},
			domain.ToolRuntime: {
				{"darwin", "amd64"}:  {URL: "https://github.com/denoland/deno/releases/latest/download/deno-x86_64-apple-darwin.zip", Archive: true, BinaryName: "deno"},
				{"darwin", "arm64"}:  {URL: "https://github.com/denoland/deno/releases/latest/download/deno-aarch64-apple-darwin.zip", Archive: true, BinaryName: "deno"},
				{"linux", "amd64"}:   {URL: "https://github.com/denoland/deno/releases/latest/download/deno-x86_64-unknown-linux-gnu.zip", Archive: true, BinaryName: "deno"},
				{"linux", "arm64"}:   {URL: "https://github.com/denoland/deno/releases/latest/download/deno-aarch64-unknown-linux-gnu.zip", Archive: true, BinaryName: "deno"},
				{"windows", "amd64"}: {URL: "https://github.com/denoland/deno/releases/latest/download/deno-x86_64-pc-windows-msvc.zip", Archive: true, BinaryName: "deno.exe"},
			},
			domain.ToolEngine: {
				// whisper.cpp ships prebuilt binaries for Windows only;
				// everywhere else it comes from a package manager.
				{"windows", "amd64"}: {URL: "https://github.com/ggml-org/whisper.cpp/releases/latest/download/whisper-bin-x64.zip", Archive: true, BinaryName: "whisper-cli.exe"},
			},
			// ffmpeg has no entry anywhere: always a system install.
			domain.ToolTranscoder: {},
		},
		models: []Model{
			{Name: "tiny", FileName: "ggml-tiny.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin", SizeLabel: "~75 MB"},
			{Name: "base", FileName: "ggml-base.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin", SizeLabel: "~142 MB"},
			{Name: "small", FileName: "ggml-small.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin", SizeLabel: "~466 MB"},
			{Name: "medium", FileName: "ggml-medium.bin", URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin", SizeLabel: "~1.5 GB"},
		},
	}
}

// NewWithTools builds a catalog from an explicit tool table. Tests use this
// to point artifact URLs at local servers; the model list stays the default.
func NewWithTools(tools map[domain.Tool]map[string]Artifact) *Catalog {
	c := New()
	c.tools = make(map[domain.Tool]map[platformKey]Artifact, len(tools))
	for tool, byPlatform := range tools {
		c.tools[tool] = make(map[platformKey]Artifact, len(byPlatform))
		for plat, art := range byPlatform {
			c.tools[tool][platformKey{plat, runtime.GOARCH}] = art
		}
	}
	return c
}

// SetModels replaces the model table. Test hook.
func (c *Catalog) SetModels(models []Model) { c.models = models }

// Resolve looks up the artifact for a tool on one platform. A false return
// is an expected outcome meaning "install via system package manager", not
// an error.
func (c *Catalog) Resolve(tool domain.Tool, goos, arch string) (Artifact, bool) {
	byPlatform, ok := c.tools[tool]
	if !ok {
		return Artifact{}, false
	}
	art, ok := byPlatform[platformKey{goos, arch}]
	return art, ok
}

// ResolveHost resolves for the running host platform.
func (c *Catalog) ResolveHost(tool domain.Tool) (Artifact, bool) {
	return c.Resolve(tool, runtime.GOOS, runtime.GOARCH)
}

// BinaryName returns the executable filename for a tool on this host, even
// when the tool itself is not downloadable here.
func (c *Catalog) BinaryName(tool domain.Tool) string {
	if art, ok := c.ResolveHost(tool); ok && art.BinaryName != "" {
		return art.BinaryName
	}
	name := tool.String()
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return name
}

// Model validates a model name against the supported enumeration. Unknown
// names fail immediately with domain.ErrUnknownModel and no I/O.
func (c *Catalog) Model(name string) (Model, error) {
	for _, m := range c.models {
		if m.Name == name {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %q (supported: %s)", domain.ErrUnknownModel, name, c.ModelNames())
}

// Models returns the supported model set in catalog order.
func (c *Catalog) Models() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// ModelNames returns the supported names as a display string.
func (c *Catalog) ModelNames() string {
	s := ""
	for i, m := range c.models {
		if i > 0 {
			s += ", "
		}
		s += m.Name
	}
	return s
}

// InstallInstructions describes how to get a non-downloadable tool on the
// given OS. Shown verbatim in the terminal error.
func InstallInstructions(tool domain.Tool, goos string) string {
	name := tool.String()
	switch goos {
	case "darwin":
		return fmt.Sprintf("run: brew install %s", brewPackage(tool))
	case "windows":
		return fmt.Sprintf("run: winget install %s", name)
	default:
		return fmt.Sprintf("install %s with your package manager, e.g. apt-get install %s", name, aptPackage(tool))
	}
}

func brewPackage(tool domain.Tool) string {
	if tool == domain.ToolEngine {
		return "whisper-cpp"
	}
	return tool.String()
}

func aptPackage(tool domain.Tool) string {
	if tool == domain.ToolEngine {
		return "whisper-cpp"
	}
	return tool.String()
}
