package nsen

import (
	"net/url"
	"strconv"
	"time"
)

// Gauge is the skip gauge level shown on the Nsen panel.
type Gauge int

const (
	GaugeBlue   Gauge = 0
	GaugeGreen  Gauge = 1
	GaugeYellow Gauge = 2
	GaugeOrange Gauge = 3
	GaugeRed    Gauge = 4
)

// PanelState is the full player panel state pushed through /nspanel
// control comments.
type PanelState struct {
	// GoodEnabled, MylistEnabled and SkipEnabled report which panel
	// buttons are usable.
	GoodEnabled   bool
	MylistEnabled bool
	SkipEnabled   bool
	// Title is the playing track's title.
	Title string
	// View, Comment and Mylist are the playing track's counters.
	View    int
	Comment int
	Mylist  int
	// UploadDate is when the playing track was uploaded. Zero when the
	// panel carried no parseable date.
	UploadDate time.Time
	// PlaylistLength is the number of queued requests.
	PlaylistLength int
	// Corner reports whether a special corner is running.
	Corner bool
	// Gauge is the skip gauge level.
	Gauge Gauge
	// TV is the TV-chan animation state.
	TV int
}

// panelEvent is one decoded "/nspanel show" payload. Exactly one of the
// fields is meaningful: click notices and DJ messages preempt a full
// state update.
type panelEvent struct {
	goodClick   bool
	mylistClick bool
	djMessage   string
	hasDJ       bool
	state       *PanelState
}

// uploadDateLayouts covers the date formats the panel has been seen
// carrying.
var uploadDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// parsePanelEvent decodes the querystring entity of a "/nspanel show"
// command.
func parsePanelEvent(entity string) (*panelEvent, error) {
	values, err := url.ParseQuery(entity)
	if err != nil {
		return nil, err
	}

	if values.Has("goodClick") {
		return &panelEvent{goodClick: true}, nil
	}
	if values.Has("mylistClick") {
		return &panelEvent{mylistClick: true}, nil
	}
	if values.Has("dj") {
		return &panelEvent{djMessage: values.Get("dj"), hasDJ: true}, nil
	}

	return &panelEvent{state: &PanelState{
		GoodEnabled:    values.Get("goodBtn") == "1",
		MylistEnabled:  values.Get("mylistBtn") == "1",
		SkipEnabled:    values.Get("skipBtn") == "1",
		Title:          values.Get("title"),
		View:           atoi(values.Get("view")),
		Comment:        atoi(values.Get("comment")),
		Mylist:         atoi(values.Get("mylist")),
		UploadDate:     parseUploadDate(values.Get("date")),
		PlaylistLength: atoi(values.Get("playlistLen")),
		Corner:         values.Get("corner") != "0",
		Gauge:          Gauge(atoi(values.Get("gage"))),
		TV:             atoi(values.Get("tv")),
	}}, nil
}

// atoi reads panel counters; absent or malformed values read as zero.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseUploadDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range uploadDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
