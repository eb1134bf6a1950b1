package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kioku/internal/model"
)

// Import defaults for exports that do not carry a resolver. Validation
// requires an email-shaped resolved_by, so imports stamp a synthetic
// local domain.
const (
	csvResolvedBy   = "csv-import@kioku.local"
	slackResolvedBy = "slack-team@kioku.local"
)

// JSONSource reads a ticket export: a JSON array of incident objects in
// the canonical wire format (created_at as RFC 3339). A malformed export
// fails the whole load; per-record defects are the pipeline's job.
type JSONSource struct {
	r io.Reader
}

func NewJSONSource(r io.Reader) *JSONSource {
	return &JSONSource{r: r}
}

func (s *JSONSource) Name() string { return "json" }

func (s *JSONSource) Load() ([]*model.Incident, error) {
	var incidents []model.Incident
	if err := json.NewDecoder(s.r).Decode(&incidents); err != nil {
		return nil, fmt.Errorf("ingest: decode json export: %w", err)
	}
	out := make([]*model.Incident, len(incidents))
	for i := range incidents {
		out[i] = &incidents[i]
	}
	return out, nil
}

// CSVMapping names the export column holding each incident field. Empty
// entries fall back to the field's own lowercase name, which matches
// most tracker exports out of the box.
type CSVMapping struct {
	ID          string
	Title       string
	Description string
	Resolution  string
	Tags        string
	CreatedAt   string
	ResolvedBy  string
	Category    string
	Priority    string
}

func (m CSVMapping) withDefaults() CSVMapping {
	def := func(v *string, name string) {
		if *v == "" {
			*v = name
		}
	}
	def(&m.ID, "id")
	def(&m.Title, "title")
	def(&m.Description, "description")
	def(&m.Resolution, "resolution")
	def(&m.Tags, "tags")
	def(&m.CreatedAt, "created_at")
	def(&m.ResolvedBy, "resolved_by")
	def(&m.Category, "category")
	def(&m.Priority, "priority")
	return m
}

// CSVSource reads a header-first CSV export. Tags are comma-separated
// within their cell; rows without a title or description are skipped as
// unusable. Missing ids are generated positionally (CSV-0001, CSV-0002,
// …) so re-importing the same file stays idempotent; a missing
// created_at defaults to the import time and a missing resolved_by to
// the import placeholder.
type CSVSource struct {
	r       io.Reader
	mapping CSVMapping
}

func NewCSVSource(r io.Reader, mapping CSVMapping) *CSVSource {
	return &CSVSource{r: r, mapping: mapping}
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) Load() ([]*model.Incident, error) {
	m := s.mapping.withDefaults()

	r := csv.NewReader(s.r)
	r.FieldsPerRecord = -1 // ragged exports are common
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ingest: read csv export: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.TrimSpace(name)] = i
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []*model.Incident
	for n, row := range rows[1:] {
		in := &model.Incident{
			ID:          cell(row, m.ID),
			Title:       cell(row, m.Title),
			Description: cell(row, m.Description),
			Resolution:  cell(row, m.Resolution),
			ResolvedBy:  cell(row, m.ResolvedBy),
			Category:    cell(row, m.Category),
			Priority:    cell(row, m.Priority),
		}
		if in.Title == "" || in.Description == "" {
			continue
		}
		if in.ID == "" {
			in.ID = fmt.Sprintf("CSV-%04d", n+1)
		}
		for _, t := range strings.Split(cell(row, m.Tags), ",") {
			if t = strings.TrimSpace(t); t != "" {
				in.Tags = append(in.Tags, t)
			}
		}
		if len(in.Tags) == 0 {
			in.Tags = []string{"csv"}
		}
		if raw := cell(row, m.CreatedAt); raw != "" {
			// An unparseable date stays zero and quarantines at
			// validation rather than being silently coerced.
			in.CreatedAt = parseWhen(raw)
		} else {
			in.CreatedAt = time.Now().UTC()
		}
		if in.ResolvedBy == "" {
			in.ResolvedBy = csvResolvedBy
		}
		out = append(out, in)
	}
	return out, nil
}

// parseWhen accepts the two timestamp shapes trackers export: RFC 3339
// and bare dates.
func parseWhen(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// Slack thread gates: a thread is worth ingesting only when it both
// names a problem and records a fix.
var (
	slackIssueTerms      = []string{"error", "issue", "problem", "bug", "failed", "timeout", "exception"}
	slackResolutionTerms = []string{"fixed", "resolved", "solution", "workaround", "solved"}
)

// SlackSource mines a Slack export for resolved-incident threads. The
// export layout is one directory per channel holding one JSON file per
// day, each an array of messages. Threads are grouped per day file by
// thread_ts; a thread becomes an incident only when it has at least two
// messages, an issue keyword, and a resolution keyword.
type SlackSource struct {
	fsys     fs.FS
	channels []string // empty means every channel directory
}

// NewSlackSource reads the export rooted at fsys. Passing channel names
// restricts the scan to those directories.
func NewSlackSource(fsys fs.FS, channels ...string) *SlackSource {
	return &SlackSource{fsys: fsys, channels: channels}
}

func (s *SlackSource) Name() string { return "slack" }

func (s *SlackSource) Load() ([]*model.Incident, error) {
	channels := s.channels
	if len(channels) == 0 {
		entries, err := fs.ReadDir(s.fsys, ".")
		if err != nil {
			return nil, fmt.Errorf("ingest: read slack export: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				channels = append(channels, e.Name())
			}
		}
	}

	var out []*model.Incident
	for _, channel := range channels {
		files, err := fs.Glob(s.fsys, path.Join(channel, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("ingest: scan slack channel %s: %w", channel, err)
		}
		for _, file := range files {
			msgs, err := s.readMessages(file)
			if err != nil {
				return nil, err
			}
			for _, thread := range slackThreads(msgs) {
				if !issueThread(thread) {
					continue
				}
				out = append(out, slackIncident(thread, channel))
			}
		}
	}
	return out, nil
}

type slackReply struct {
	TS string `json:"ts"`
}

type slackMessage struct {
	TS       string       `json:"ts"`
	ThreadTS string       `json:"thread_ts"`
	Text     string       `json:"text"`
	Replies  []slackReply `json:"replies"`
}

func (s *SlackSource) readMessages(file string) ([]slackMessage, error) {
	data, err := fs.ReadFile(s.fsys, file)
	if err != nil {
		return nil, fmt.Errorf("ingest: read slack day file %s: %w", file, err)
	}
	var msgs []slackMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("ingest: decode slack day file %s: %w", file, err)
	}
	return msgs, nil
}

// slackThreads groups a day's messages into threads, in first-seen
// order. Replies carry thread_ts; older exports mark parents only by a
// replies list, so both shapes key the thread.
func slackThreads(msgs []slackMessage) [][]slackMessage {
	threads := make(map[string][]slackMessage)
	var order []string
	for _, m := range msgs {
		key := m.ThreadTS
		if key == "" && len(m.Replies) > 0 {
			key = m.TS
		}
		if key == "" {
			continue
		}
		if _, ok := threads[key]; !ok {
			order = append(order, key)
		}
		threads[key] = append(threads[key], m)
	}
	out := make([][]slackMessage, 0, len(order))
	for _, key := range order {
		out = append(out, threads[key])
	}
	return out
}

func issueThread(thread []slackMessage) bool {
	if len(thread) < 2 {
		return false
	}
	var b strings.Builder
	for _, m := range thread {
		b.WriteString(strings.ToLower(m.Text))
		b.WriteByte(' ')
	}
	text := b.String()
	return containsAny(text, slackIssueTerms) && containsAny(text, slackResolutionTerms)
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// slackIncident converts a qualifying thread: the opening message is the
// description, the closing messages (at most three) are the resolution.
func slackIncident(thread []slackMessage, channel string) *model.Incident {
	first := thread[0]

	tail := thread[1:]
	if len(thread) > 3 {
		tail = thread[len(thread)-3:]
	}
	parts := make([]string, len(tail))
	for i, m := range tail {
		parts[i] = m.Text
	}

	return &model.Incident{
		ID:          fmt.Sprintf("SLACK-%s-%s", channelIDSegment(channel), first.TS),
		Title:       fmt.Sprintf("Issue from #%s: %s", channel, model.Truncate(first.Text, 100)),
		Description: first.Text,
		Resolution:  strings.Join(parts, " "),
		Tags:        []string{"slack", channel},
		CreatedAt:   slackTime(first.TS),
		ResolvedBy:  slackResolvedBy,
	}
}

// channelIDSegment folds a channel name into the id alphabet: incident
// ids only allow word characters in the channel segment, so dashes and
// anything else exotic become underscores.
func channelIDSegment(channel string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, channel)
}

// slackTime converts a Slack message timestamp (epoch seconds with a
// fractional suffix) to UTC. Unparseable timestamps stay zero and fail
// validation downstream.
func slackTime(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
