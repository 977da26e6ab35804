package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/burrowlabs/burrow/pkg/types"
)

// uniqueWorkDirectory allocates
// <work_dir>/work/slave-<id>/fw-<framework>-<executor>/<n> for the
// smallest n not yet on disk, and creates it. The same framework can
// launch the same executor id again later, so the numeric suffix
// keeps directories distinct within one agent lifetime.
func (a *Agent) uniqueWorkDirectory(frameworkID types.FrameworkID,
	executorID types.ExecutorID) (string, error) {

	base := filepath.Join(
		a.conf.WorkDir,
		"work",
		fmt.Sprintf("slave-%s", a.id),
		fmt.Sprintf("fw-%s-%s", frameworkID, executorID),
	)

	for i := 0; ; i++ {
		dir := filepath.Join(base, strconv.Itoa(i))
		_, err := os.Stat(dir)
		if err == nil {
			continue
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to probe work directory %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create work directory %s: %w", dir, err)
		}
		return dir, nil
	}
}
