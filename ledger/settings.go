package ledger

import "strconv"

// Setting keys stored in the local settings table. Only the reception
// toggle and last-sync stamp are read by the syncer; the rest belong to
// the presentation layer and are stored here verbatim.
const (
	SettingReception   = "reception_enabled"
	SettingLastSync    = "last_sync"
	SettingQuickValues = "quick_values"
	SettingReminder    = "reminder_schedule"
	SettingAppearance  = "appearance"
)

// KnownSettings lists the keys the CLI accepts for get/set.
var KnownSettings = []string{SettingReception, SettingQuickValues, SettingReminder, SettingAppearance}

// receptionDefault is used until a manager sets the toggle.
const receptionDefault = true

func parseBoolSetting(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
