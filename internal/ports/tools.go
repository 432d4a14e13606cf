package ports

import "context"

// Every tool is async at the port: implementations that block run on
// their own goroutines behind these methods.

// FileEntry describes one filesystem entry.
type FileEntry struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Filesystem is the project-scoped file tool port.
type Filesystem interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, content []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, dir string) ([]FileEntry, error)
	Search(ctx context.Context, pattern string) ([]string, error)
}

// GitStatus summarizes the working tree.
type GitStatus struct {
	Branch    string   `json:"branch"`
	Dirty     bool     `json:"dirty"`
	Untracked []string `json:"untracked,omitempty"`
	Modified  []string `json:"modified,omitempty"`
}

// Git is the version control tool port.
type Git interface {
	Status(ctx context.Context) (*GitStatus, error)
	Branch(ctx context.Context, name string) error
	Commit(ctx context.Context, message string) (string, error)
	Diff(ctx context.Context) (string, error)
	Push(ctx context.Context) error
}

// BuildResult reports a container build.
type BuildResult struct {
	Success  bool   `json:"success"`
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Tests    bool   `json:"tests_passed"`
}

// Container is the runtime tool port for builds and previews.
type Container interface {
	Build(ctx context.Context) (*BuildResult, error)
	Start(ctx context.Context) (containerID, url string, err error)
	Stop(ctx context.Context, containerID string) error
	Logs(ctx context.Context, containerID string, tail int) (string, error)
}

// HTTPClient is the research tool port.
type HTTPClient interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// Toolset bundles the tool ports handed to a worker. Nil fields mean
// the capability is unavailable in this deployment.
type Toolset struct {
	FS        Filesystem
	Git       Git
	Container Container
	HTTP      HTTPClient
}
