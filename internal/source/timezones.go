package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
)

const (
	FieldZoneID          = "id"
	FieldZoneDisplayName = "time_zone_display_name"
	FieldOffset          = "offset"
	FieldObservesDST     = "observes_daylight_savings_time"
)

// DefaultZones is used when neither an explicit list nor a zoneinfo
// directory is configured.
var DefaultZones = []string{
	"Pacific/Honolulu", "America/Anchorage", "America/Los_Angeles", "America/Phoenix",
	"America/Denver", "America/Chicago", "America/Mexico_City", "America/New_York",
	"America/Halifax", "America/St_Johns", "America/Sao_Paulo", "Atlantic/Azores",
	"Europe/London", "Europe/Lisbon", "Europe/Paris", "Europe/Berlin", "Africa/Lagos",
	"Europe/Athens", "Africa/Cairo", "Africa/Johannesburg", "Europe/Moscow", "Asia/Dubai",
	"Asia/Karachi", "Asia/Kolkata", "Asia/Kathmandu", "Asia/Dhaka", "Asia/Bangkok",
	"Asia/Shanghai", "Asia/Singapore", "Asia/Tokyo", "Asia/Seoul", "Australia/Darwin",
	"Australia/Adelaide", "Australia/Brisbane", "Australia/Sydney", "Pacific/Auckland",
	"Etc/UTC", "Etc/GMT+5",
}

// zoneNames maps standard-time abbreviations to descriptive names. Zones
// whose abbreviation is not listed use the abbreviation itself.
var zoneNames = map[string]string{
	"HST":  "Hawaii Standard Time",
	"AKST": "Alaska Standard Time",
	"PST":  "Pacific Standard Time",
	"MST":  "Mountain Standard Time",
	"CST":  "Central Standard Time",
	"EST":  "Eastern Standard Time",
	"AST":  "Atlantic Standard Time",
	"NST":  "Newfoundland Standard Time",
	"GMT":  "Greenwich Mean Time",
	"UTC":  "Coordinated Universal Time",
	"WET":  "Western European Standard Time",
	"CET":  "Central European Standard Time",
	"WAT":  "West Africa Time",
	"EET":  "Eastern European Standard Time",
	"SAST": "South Africa Standard Time",
	"MSK":  "Moscow Standard Time",
	"PKT":  "Pakistan Standard Time",
	"IST":  "India Standard Time",
	"JST":  "Japan Standard Time",
	"KST":  "Korea Standard Time",
	"ACST": "Australian Central Standard Time",
	"AEST": "Australian Eastern Standard Time",
	"NZST": "New Zealand Standard Time",
}

// TimeZones indexes one document per IANA zone: its id, a descriptive
// standard-time name, the standard offset and whether it observes
// daylight saving time. Offset-only zones (Etc/GMT+5 and the like) are
// skipped. Documents are ordered by offset, then id.
type TimeZones struct {
	// Zones lists zone ids explicitly.
	Zones []string
	// Root is a zoneinfo directory to walk when Zones is empty.
	Root string
	// Year fixes the reference year for offsets; zero uses 2024.
	Year int
}

func (z *TimeZones) Name() string { return "timezones" }

type zoneInfo struct {
	id      string
	display string
	offset  time.Duration
	dst     bool
}

func (z *TimeZones) Load(ctx context.Context) ([]document.Document, error) {
	ids, err := z.zoneIDs()
	if err != nil {
		return nil, err
	}
	year := z.Year
	if year == 0 {
		year = 2024
	}

	zones := make([]zoneInfo, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loc, err := time.LoadLocation(id)
		if err != nil {
			slog.Debug("skipping unloadable zone", "zone", id, "error", err)
			continue
		}
		info := describeZone(id, loc, year)
		if offsetOnly(info.display) {
			continue
		}
		zones = append(zones, info)
	}
	sort.Slice(zones, func(i, j int) bool {
		if zones[i].offset != zones[j].offset {
			return zones[i].offset < zones[j].offset
		}
		return zones[i].id < zones[j].id
	})

	docs := make([]document.Document, len(zones))
	for i, zi := range zones {
		docs[i] = document.New(
			document.TextField(FieldZoneID, zi.id, true),
			document.Field{Name: FieldZoneDisplayName, Type: document.Text, Value: zi.display, Stored: true, Indexed: true, Faceted: true},
			document.Field{Name: FieldOffset, Type: document.Keyword, Value: zi.offset.String(), Stored: true, Faceted: true},
			document.FacetField(FieldObservesDST, fmt.Sprint(zi.dst)),
		)
	}
	return docs, nil
}

func (z *TimeZones) zoneIDs() ([]string, error) {
	if len(z.Zones) > 0 {
		return z.Zones, nil
	}
	if z.Root == "" {
		return DefaultZones, nil
	}
	var ids []string
	err := filepath.WalkDir(z.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(z.Root, path)
		if d.IsDir() {
			if rel != "." && (strings.HasPrefix(d.Name(), ".") || !startsUpper(d.Name())) {
				return filepath.SkipDir
			}
			return nil
		}
		if startsUpper(d.Name()) && !strings.Contains(d.Name(), ".") {
			ids = append(ids, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking zoneinfo %s: %w", z.Root, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no zones under %s: %w", z.Root, os.ErrNotExist)
	}
	return ids, nil
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

// describeZone samples the zone in January and July. The smaller offset is
// standard time; differing offsets mean daylight saving is observed.
func describeZone(id string, loc *time.Location, year int) zoneInfo {
	jan := time.Date(year, time.January, 1, 12, 0, 0, 0, loc)
	jul := time.Date(year, time.July, 1, 12, 0, 0, 0, loc)
	janAbbr, janOff := jan.Zone()
	julAbbr, julOff := jul.Zone()

	abbr, off := janAbbr, janOff
	if julOff < janOff {
		abbr, off = julAbbr, julOff
	}
	display := abbr
	if name, ok := zoneNames[abbr]; ok {
		display = name
	}
	return zoneInfo{
		id:      id,
		display: display,
		offset:  time.Duration(off) * time.Second,
		dst:     janOff != julOff,
	}
}

// offsetOnly reports names that describe an offset rather than a place,
// such as "+05" or "GMT+3".
func offsetOnly(display string) bool {
	if strings.HasPrefix(display, "GMT") && display != "GMT" {
		return true
	}
	return strings.HasPrefix(display, "+") || strings.HasPrefix(display, "-")
}
