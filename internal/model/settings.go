package model

import "time"

// ValidCheckIntervals は設定可能なチェック間隔（時間）の集合。
var ValidCheckIntervals = []int{1, 3, 6, 12, 24}

// DefaultCheckIntervalHours はチェック間隔のデフォルト値。
const DefaultCheckIntervalHours = 6

// Settings はプロセス全体のシングルトン設定。
// スケジューラが毎回の起床時に参照する。
type Settings struct {
	CheckIntervalHours int
	UpdatedAt          time.Time
}

// IsValidCheckInterval はチェック間隔が許可された値かを検証する。
func IsValidCheckInterval(hours int) bool {
	for _, v := range ValidCheckIntervals {
		if v == hours {
			return true
		}
	}
	return false
}
