package merger

import "os"

// withCommitterIdentity runs fn with GIT_AUTHOR_*/GIT_COMMITTER_* set to the
// daemon's deterministic identity, restoring whatever was previously set
// afterward. The exec-based Runner has no per-call environment hook, so
// this is the substrate-appropriate way to pin commit authorship without
// touching the operator's global git config.
func (m *Merger) withCommitterIdentity(fn func() error) error {
	vars := map[string]string{
		"GIT_AUTHOR_NAME":     committerName,
		"GIT_AUTHOR_EMAIL":    committerEmail,
		"GIT_COMMITTER_NAME":  committerName,
		"GIT_COMMITTER_EMAIL": committerEmail,
	}

	previous := make(map[string]string, len(vars))
	present := make(map[string]bool, len(vars))
	for k := range vars {
		if v, ok := os.LookupEnv(k); ok {
			previous[k] = v
			present[k] = true
		}
	}

	for k, v := range vars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range vars {
			if present[k] {
				os.Setenv(k, previous[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}()

	return fn()
}
