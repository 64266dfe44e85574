package botvendor

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/aura-webinar/meetbot/internal/models"
)

var (
	// 00:00:05.579 --> 00:00:06.858 (hours optional)
	vttTimestampRegex = regexp.MustCompile(`^((?:\d{2,}:)?\d{2}:\d{2}\.\d{3})\s+-->\s+((?:\d{2,}:)?\d{2}:\d{2}\.\d{3})`)
	// <v Speaker Name>text</v>
	vttVoiceRegex = regexp.MustCompile(`^<v(?:\.[^ >]+)?\s+([^>]+)>(.*?)(?:</v>)?$`)
	// Speaker Name: text
	vttPrefixRegex = regexp.MustCompile(`^([^:<>]{1,64}):\s+(.+)$`)
)

// ParseVTT parses a WebVTT transcript. Speakers are read from voice tags or from a
// "Name: text" prefix.
func ParseVTT(r io.Reader) (*Transcript, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var segments []models.TranscriptSegment
	var cur *models.TranscriptSegment
	flush := func() {
		if cur != nil && cur.Text != "" {
			segments = append(segments, *cur)
		}
		cur = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "WEBVTT") || strings.HasPrefix(line, "NOTE") {
			continue
		}
		if m := vttTimestampRegex.FindStringSubmatch(line); m != nil {
			flush()
			cur = &models.TranscriptSegment{StartTime: parseVTTTimestamp(m[1]), EndTime: parseVTTTimestamp(m[2])}
			continue
		}
		if cur == nil {
			// cue identifier
			continue
		}
		speaker, text := splitSpeaker(line)
		if speaker != "" && cur.Speaker == "" {
			cur.Speaker = speaker
		}
		if cur.Text != "" {
			cur.Text += " "
		}
		cur.Text += text
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return FromSegments(segments, ""), nil
}

func splitSpeaker(line string) (speaker, text string) {
	if m := vttVoiceRegex.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if m := vttPrefixRegex.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return "", line
}

// parseVTTTimestamp converts [HH:]MM:SS.mmm to seconds.
func parseVTTTimestamp(ts string) float64 {
	parts := strings.Split(ts, ":")
	var hours, minutes int
	var secPart string
	switch len(parts) {
	case 3:
		hours, _ = strconv.Atoi(parts[0])
		minutes, _ = strconv.Atoi(parts[1])
		secPart = parts[2]
	case 2:
		minutes, _ = strconv.Atoi(parts[0])
		secPart = parts[1]
	default:
		return 0
	}
	seconds, _ := strconv.ParseFloat(secPart, 64)
	return float64(hours*3600+minutes*60) + seconds
}
