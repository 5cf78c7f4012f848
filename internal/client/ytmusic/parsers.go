package ytmusic

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tunesyncd/tunesyncd/internal/track"
)

const watchURLFormat = "https://music.youtube.com/watch?v=%s"

// parseSearchResponse walks the search payload and extracts song items.
// The payload nests result rows several renderer layers deep, so the walk
// is done over generic maps instead of a full response model.
func parseSearchResponse(raw []byte) ([]*track.Candidate, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	var candidates []*track.Candidate

	walkMaps(payload, "musicResponsiveListItemRenderer", func(item map[string]any) {
		if candidate := parseListItem(item); candidate != nil {
			candidates = append(candidates, candidate)
		}
	})

	if len(candidates) == 0 {
		return nil, ErrNoResults
	}

	return candidates, nil
}

// parseListItem extracts one candidate from a responsive list item. Items
// without a video id or a parsable duration are skipped.
func parseListItem(item map[string]any) *track.Candidate {
	videoID := findStringValue(item, "videoId")
	if videoID == "" {
		return nil
	}

	runs := collectTextRuns(item)
	if len(runs) == 0 {
		return nil
	}

	candidate := &track.Candidate{
		Title: runs[0],
		URL:   fmt.Sprintf(watchURLFormat, videoID),
	}

	// The flex columns after the title hold artist, album and duration as
	// separate runs. The duration is the last parsable clock value; the
	// artist is the first run after the title.
	for _, run := range runs[1:] {
		run = strings.TrimSpace(run)
		if run == "" || run == "•" {
			continue
		}

		if seconds, ok := ParseDuration(run); ok {
			candidate.Duration = seconds

			continue
		}

		if candidate.Artist == "" {
			candidate.Artist = run
		}
	}

	if candidate.Duration == 0 {
		return nil
	}

	return candidate
}

// ParseDuration parses a clock-style duration, "m:ss" or "h:mm:ss", into
// whole seconds. The second result is false for anything else.
func ParseDuration(value string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}

	total := 0

	for i, part := range parts {
		number, err := strconv.Atoi(part)
		if err != nil || number < 0 {
			return 0, false
		}

		// Minute and second fields after the first must be two digits
		// below sixty.
		if i > 0 && (number > 59 || len(part) != 2) {
			return 0, false
		}

		total = total*60 + number
	}

	return total, true
}

// walkMaps calls visit for every nested map stored under the given key
// anywhere in the document.
func walkMaps(node any, key string, visit func(map[string]any)) {
	switch typed := node.(type) {
	case map[string]any:
		for k, v := range typed {
			if k == key {
				if item, ok := v.(map[string]any); ok {
					visit(item)
				}
			}

			walkMaps(v, key, visit)
		}
	case []any:
		for _, v := range typed {
			walkMaps(v, key, visit)
		}
	}
}

// findStringValue returns the first string stored under the given key
// anywhere below the node.
func findStringValue(node any, key string) string {
	var result string

	var walk func(any)

	walk = func(current any) {
		if result != "" {
			return
		}

		switch typed := current.(type) {
		case map[string]any:
			if value, ok := typed[key].(string); ok {
				result = value

				return
			}

			for _, v := range typed {
				walk(v)
			}
		case []any:
			for _, v := range typed {
				walk(v)
			}
		}
	}

	walk(node)

	return result
}

// collectTextRuns gathers the display strings of an item's flex columns in
// document order.
func collectTextRuns(item map[string]any) []string {
	columns, ok := item["flexColumns"].([]any)
	if !ok {
		return nil
	}

	var runs []string

	for _, column := range columns {
		columnMap, ok := column.(map[string]any)
		if !ok {
			continue
		}

		renderer, ok := columnMap["musicResponsiveListItemFlexColumnRenderer"].(map[string]any)
		if !ok {
			continue
		}

		text, ok := renderer["text"].(map[string]any)
		if !ok {
			continue
		}

		rawRuns, ok := text["runs"].([]any)
		if !ok {
			continue
		}

		for _, rawRun := range rawRuns {
			runMap, ok := rawRun.(map[string]any)
			if !ok {
				continue
			}

			if value, ok := runMap["text"].(string); ok && value != "" {
				runs = append(runs, value)
			}
		}
	}

	return runs
}
