package domain

import "time"

// DistanceUnit selects how the user enters and reads distances. Everything
// is converted to meters before it reaches the index.
type DistanceUnit string

const (
	UnitMeters DistanceUnit = "meters"
	UnitFeet   DistanceUnit = "feet"
)

// UserSettings is the preference blob stored inside the user document and
// synced across a user's machines.
type UserSettings struct {
	DistanceUnit DistanceUnit `json:"distanceUnit"`
	DateFormat   string       `json:"dateFormat"`
	TimeFormat   string       `json:"timeFormat"`
	MapProvider  string       `json:"mapProvider"`
}

// DefaultSettings are applied when a user document is first created.
func DefaultSettings() UserSettings {
	return UserSettings{
		DistanceUnit: UnitMeters,
		DateFormat:   "2006-01-02",
		TimeFormat:   "15:04",
		MapProvider:  "OpenStreetMap",
	}
}

// User is one document in the users index, keyed by username. The password
// hash only exists for accounts created through the API surface; grid-native
// accounts authenticate against the grid itself.
type User struct {
	Username     string       `json:"username"`
	PasswordHash string       `json:"-"`
	Settings     UserSettings `json:"settings"`
	CreatedAt    time.Time    `json:"createdAt"`
}
