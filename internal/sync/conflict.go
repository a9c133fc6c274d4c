package sync

import (
	"slices"

	"github.com/emirbensusan/lotastro-sync/internal/store"
)

// ConflictFields runs the three-way comparison and returns the fields that
// both sides changed to different values, sorted. It returns nil when the
// baseline or server record is absent: detection is skipped and the failure
// is an ordinary retry.
func ConflictFields(original, local, server store.Record) []string {
	if original == nil || server == nil {
		return nil
	}

	var fields []string

	for k, lv := range local {
		ov := original[k]
		sv := server[k]

		userChanged := !store.EqualValues(lv, ov)
		serverChanged := !store.EqualValues(sv, ov)

		if userChanged && serverChanged && !store.EqualValues(lv, sv) {
			fields = append(fields, k)
		}
	}

	slices.Sort(fields)

	return fields
}

// DetectConflict reports whether local and server diverged from original on
// a field the local write touched.
func DetectConflict(original, local, server store.Record) bool {
	return len(ConflictFields(original, local, server)) > 0
}
