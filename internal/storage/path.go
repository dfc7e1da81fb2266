package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidPath = errors.New("invalid storage path")

const maxExtLen = 10

// BuildPath returns the storage key for a new object:
// agents/<agentId>/<entityKind>/<entityId>/<unixMillis>-<randomId>.<ext>
func BuildPath(agentID, entityKind, entityID, filename string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	key := fmt.Sprintf("agents/%s/%s/%s/%d-%s", agentID, entityKind, entityID, now.UnixMilli(), random)
	if ext := cleanExt(filename); ext != "" {
		key += "." + ext
	}
	return key
}

func cleanExt(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// ValidatePath accepts relative storage keys only. URLs, absolute paths and
// parent segments are rejected.
func ValidatePath(p string) error {
	switch {
	case strings.TrimSpace(p) == "":
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	case strings.Contains(p, "://"),
		strings.HasPrefix(strings.ToLower(p), "http:"),
		strings.HasPrefix(strings.ToLower(p), "https:"):
		return fmt.Errorf("%w: urls are not storage keys", ErrInvalidPath)
	case strings.HasPrefix(p, "/"), strings.Contains(p, "\\"):
		return fmt.Errorf("%w: absolute path", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("%w: bad segment in %q", ErrInvalidPath, p)
		}
	}
	return nil
}

// OwnedBy reports whether the key lives under the agent's prefix.
func OwnedBy(p, agentID string) bool {
	if agentID == "" {
		return false
	}
	return strings.HasPrefix(p, "agents/"+agentID+"/")
}
