package usage

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// headerPattern matches an entity block header such as
// "Usage for acme.example.com:" regardless of case or leading decoration.
var headerPattern = regexp.MustCompile(`(?i)usage\s+for\s+([^\s:]+)\s*:`)

// ParseStats summarizes one parsed snapshot
type ParseStats struct {
	Entities     int `json:"entities"`
	Records      int `json:"records"`
	SkippedLines int `json:"skipped_lines"`
}

// ParseWarning describes a line the parser had to skip.
// Warnings are returned to the caller for logging; parsing itself never
// fails on malformed content, only on read errors.
type ParseWarning struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// ParseResult is the outcome of parsing a single snapshot report
type ParseResult struct {
	Records  []*UsageRecord
	Stats    ParseStats
	Warnings []ParseWarning
}

// ParseSnapshot reads one usage snapshot report and extracts usage records.
//
// The report format is line oriented: a header line containing
// "Usage for <entity_id>:" opens an entity block, and each following
// "- <tier_id>: <count>" line reports the peak concurrent usage for one tier.
// Blank lines and decorative separator lines are ignored. Malformed lines
// and blocks with invalid entity IDs are skipped with a warning; a snapshot
// with problems still yields every record that could be read.
//
// All records carry the given observation date and snapshot name.
func ParseSnapshot(r io.Reader, snapshotName string, observedAt time.Time) (*ParseResult, error) {
	result := &ParseResult{}

	// Index into result.Records per (entity, tier) pair, for in-file dedup.
	seen := make(map[string]int)

	currentEntity := ""
	inSkippedBlock := false
	lineNo := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		if m := headerPattern.FindStringSubmatch(line); m != nil {
			entityID := m[1]
			if err := ValidateEntityID(entityID); err != nil {
				result.warn(lineNo, line, fmt.Sprintf("invalid entity ID, skipping block: %v", err))
				currentEntity = ""
				inSkippedBlock = true
				continue
			}
			currentEntity = strings.ToLower(entityID)
			inSkippedBlock = false
			result.Stats.Entities++
			continue
		}

		if isSeparator(line) {
			continue
		}

		if !strings.HasPrefix(line, "-") {
			result.warn(lineNo, line, "unrecognized line")
			continue
		}

		if currentEntity == "" {
			if inSkippedBlock {
				result.warn(lineNo, line, "tier line in skipped block")
			} else {
				result.warn(lineNo, line, "tier line before any entity header")
			}
			continue
		}

		tierID, count, err := parseTierLine(line)
		if err != nil {
			result.warn(lineNo, line, err.Error())
			continue
		}

		key := currentEntity + "\x00" + tierID
		if idx, ok := seen[key]; ok {
			// Duplicate pair within one snapshot: the higher count stands.
			if count > result.Records[idx].Count {
				result.Records[idx].Count = count
			}
			result.warn(lineNo, line, "duplicate tier for entity, keeping higher count")
			continue
		}

		record, err := NewUsageRecord(currentEntity, tierID, count, observedAt, snapshotName)
		if err != nil {
			result.warn(lineNo, line, err.Error())
			continue
		}

		seen[key] = len(result.Records)
		result.Records = append(result.Records, record)
		result.Stats.Records++
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", snapshotName, err)
	}

	return result, nil
}

// parseTierLine extracts the tier ID and count from a "- <tier_id>: <count>" line
func parseTierLine(line string) (string, int64, error) {
	body := strings.TrimSpace(strings.TrimPrefix(line, "-"))

	tierPart, countPart, found := strings.Cut(body, ":")
	if !found {
		return "", 0, fmt.Errorf("tier line missing colon")
	}

	tierID := strings.TrimSpace(tierPart)
	if err := ValidateTierID(tierID); err != nil {
		return "", 0, err
	}

	count, err := strconv.ParseInt(strings.TrimSpace(countPart), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid count %q", strings.TrimSpace(countPart))
	}
	if count < 0 {
		return "", 0, fmt.Errorf("negative count %d", count)
	}

	return tierID, count, nil
}

// isSeparator reports whether a line is pure decoration (dashes, table
// borders) carrying no data.
func isSeparator(line string) bool {
	sawDash := false
	for _, r := range line {
		switch r {
		case '-', '=', '+', '|', ' ':
			if r == '-' || r == '=' {
				sawDash = true
			}
		default:
			return false
		}
	}
	return sawDash
}

func (r *ParseResult) warn(line int, content, reason string) {
	r.Warnings = append(r.Warnings, ParseWarning{Line: line, Content: content, Reason: reason})
	r.Stats.SkippedLines++
}
