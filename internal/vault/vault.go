// Package vault ships finished archives off the host and fetches them back
// for restore.
package vault

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"checkin/internal/checkin"
)

// validName accepts plain file names only.
func validName(name string) error {
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid archive name: %q", name)
	}
	return nil
}

func sortNewestFirst(infos []checkin.ArchiveInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ModifiedAt.Equal(infos[j].ModifiedAt) {
			return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
		}
		return infos[i].Name > infos[j].Name
	})
}
