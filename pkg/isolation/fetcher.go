package isolation

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/burrowlabs/burrow/pkg/config"
)

// Fetch materializes an executor URI for execution and returns the
// local path. http(s) URIs download into the work directory, hdfs URIs
// go through the Hadoop CLI, and plain paths resolve against
// frameworks_home.
func Fetch(uri, directory string, conf *config.Config) (string, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return fetchHTTP(uri, directory)
	case strings.HasPrefix(uri, "hdfs://"):
		return fetchHDFS(uri, directory, conf)
	default:
		return resolveLocal(uri, conf)
	}
}

func fetchHTTP(uri, directory string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("malformed executor uri %q: %w", uri, err)
	}
	base := path.Base(parsed.Path)
	if base == "/" || base == "." {
		return "", fmt.Errorf("executor uri %q has no file component", uri)
	}
	local := filepath.Join(directory, base)

	resp, err := http.Get(uri)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: status %d", uri, resp.StatusCode)
	}

	out, err := os.OpenFile(local, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", local, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", local, err)
	}
	return local, nil
}

func fetchHDFS(uri, directory string, conf *config.Config) (string, error) {
	hadoop := "hadoop"
	if conf.HadoopHome != "" {
		hadoop = filepath.Join(conf.HadoopHome, "bin", "hadoop")
	}
	local := filepath.Join(directory, path.Base(uri))

	cmd := exec.Command(hadoop, "fs", "-copyToLocal", uri, local)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("hadoop copyToLocal %s: %w: %s", uri, err, strings.TrimSpace(string(out)))
	}
	if err := os.Chmod(local, 0o755); err != nil {
		return "", fmt.Errorf("failed to chmod %s: %w", local, err)
	}
	return local, nil
}

func resolveLocal(uri string, conf *config.Config) (string, error) {
	resolved := uri
	if !filepath.IsAbs(resolved) && conf.FrameworksHome != "" {
		resolved = filepath.Join(conf.FrameworksHome, resolved)
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", fmt.Errorf("executor %q not found: %w", uri, err)
	}
	return resolved, nil
}
