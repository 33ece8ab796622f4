package broadcast

import (
	"regexp"
	"strconv"
	"strings"
)

// Class buckets a delivery error for the per-destination state machine.
// The janitor sweep reuses it for probe failures.
type Class int

const (
	ClassUnknown Class = iota
	ClassMigrated
	ClassPermanent
	ClassTransient
)

var migratedIDPattern = regexp.MustCompile(`(-100\d+)`)

// Classify inspects a delivery error's description. Telegram does not hand
// us structured error codes on these paths, so this is substring matching
// by design; keeping every pattern in this one function is what makes the
// fragility tolerable.
//
// For migrations the new permanent chat id is extracted from the error text
// when present (a negative 13-digit supergroup id); migratedTo is 0 when
// the marker matched but no id could be recovered.
func Classify(err error) (class Class, migratedTo int64) {
	if err == nil {
		return ClassUnknown, 0
	}
	desc := err.Error()
	lower := strings.ToLower(desc)

	if strings.Contains(lower, "new chat id") || strings.Contains(lower, "migrated to supergroup") {
		if m := migratedIDPattern.FindString(desc); m != "" {
			id, perr := strconv.ParseInt(m, 10, 64)
			if perr == nil {
				return ClassMigrated, id
			}
		}
		return ClassMigrated, 0
	}
	if strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "chat not found") ||
		strings.Contains(lower, "kicked") {
		return ClassPermanent, 0
	}
	if strings.Contains(lower, "network") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "retry") {
		return ClassTransient, 0
	}
	return ClassUnknown, 0
}
