// Package view turns store snapshots into display rows. Every function here
// is pure: a snapshot in, a complete view out.
package view

import (
	"strings"
	"time"

	"github.com/Froom3010/Froom/internal/store"
)

const (
	DefaultOnlineWindow  = 60 * time.Second
	DefaultActivityLimit = 50

	timeLayout = "15:04:05"
)

type TeamRow struct {
	UID          string `json:"uid"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
	Availability string `json:"availability"`
	Badge        string `json:"badge"`
	Status       string `json:"status"`
	Online       bool   `json:"online"`
	Presence     string `json:"presence"`
}

type Team struct {
	Empty   bool      `json:"empty"`
	Members []TeamRow `json:"members"`
}

type ActivityRow struct {
	ID     string `json:"id"`
	Time   string `json:"time"`
	ByName string `json:"byName"`
	Change string `json:"change"`
}

type Activity struct {
	Empty   bool          `json:"empty"`
	Entries []ActivityRow `json:"entries"`
}

// Online reports whether lastActive (epoch millis) is inside window of now.
func Online(lastActive int64, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultOnlineWindow
	}
	return now.UnixMilli()-lastActive < window.Milliseconds()
}

// RenderTeam keeps the snapshot order. Online state is computed once, here.
func RenderTeam(members []store.Member, now time.Time, window time.Duration) Team {
	if len(members) == 0 {
		return Team{Empty: true, Members: []TeamRow{}}
	}
	rows := make([]TeamRow, 0, len(members))
	for _, member := range members {
		availability := member.Availability
		if availability == "" {
			availability = store.AvailabilityFree
		}
		row := TeamRow{
			UID:          member.UID,
			DisplayName:  nameOrUnknown(member.DisplayName),
			Role:         member.Role,
			Availability: strings.ToUpper(string(availability)),
			Badge:        BadgeClass(availability),
			Status:       StatusLine(member.Activity, member.Location, member.Note),
			Online:       Online(member.LastActive, now, window),
		}
		if row.Online {
			row.Presence = "Online"
		} else {
			row.Presence = "Last active " + clock(member.LastActive)
		}
		rows = append(rows, row)
	}
	return Team{Members: rows}
}

// RenderActivity keeps at most limit entries from an already ordered feed.
func RenderActivity(entries []store.ActivityEntry, limit int) Activity {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if len(entries) == 0 {
		return Activity{Empty: true, Entries: []ActivityRow{}}
	}
	rows := make([]ActivityRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, ActivityRow{
			ID:     entry.ID,
			Time:   clock(entry.TS),
			ByName: nameOrUnknown(entry.ByName),
			Change: entry.Change,
		})
	}
	return Activity{Entries: rows}
}

func BadgeClass(availability store.Availability) string {
	switch availability {
	case store.AvailabilityBusy:
		return "busy"
	case store.AvailabilityDND:
		return "dnd"
	default:
		return "ok"
	}
}

// StatusLine renders "<activity>[ • <location>][ — <note>]".
func StatusLine(activity, location, note string) string {
	var b strings.Builder
	b.WriteString(activity)
	if location != "" {
		b.WriteString(" • ")
		b.WriteString(location)
	}
	if note != "" {
		b.WriteString(" — ")
		b.WriteString(note)
	}
	return b.String()
}

func nameOrUnknown(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Unknown"
	}
	return name
}

func clock(millis int64) string {
	return time.UnixMilli(millis).Format(timeLayout)
}
