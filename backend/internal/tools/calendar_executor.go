package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"

	apperrors "coyote/backend/pkg/errors"
	"coyote/backend/pkg/logger"
)

const primaryCalendar = "primary"

// CalendarExecutor implements the calendar_* tools against the primary calendar
type CalendarExecutor struct {
	service  *calendar.Service
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewCalendarExecutor creates a Calendar executor. Day boundaries and new
// events use loc.
func NewCalendarExecutor(service *calendar.Service, loc *time.Location) *CalendarExecutor {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarExecutor{
		service:  service,
		location: loc,
		now:      time.Now,
		logger:   logger.Get(),
	}
}

// Available reports whether the Calendar client is configured
func (c *CalendarExecutor) Available(ctx context.Context) bool {
	return c.service != nil
}

// EventSummary is the compact view of one event returned to the model
type EventSummary struct {
	Title    string `json:"title"`
	Start    string `json:"start"`
	Location string `json:"location,omitempty"`
}

// DayAgenda lists the events of one day
type DayAgenda struct {
	Date   string         `json:"date"`
	Count  int            `json:"count"`
	Events []EventSummary `json:"events"`
}

// UpcomingEvents lists events in the next Days days
type UpcomingEvents struct {
	Days   int            `json:"days"`
	Count  int            `json:"count"`
	Events []EventSummary `json:"events"`
}

// Today lists today's events in the configured timezone
func (c *CalendarExecutor) Today(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	now := c.now().In(c.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.location)
	end := start.AddDate(0, 0, 1)

	events, err := c.list(ctx, start, end, 0)
	if err != nil {
		return nil, upstreamFailure(ToolCalendarToday, err)
	}

	summaries := summarizeEvents(events, 30)
	return &DayAgenda{Date: start.Format("2006-01-02"), Count: len(summaries), Events: summaries}, nil
}

// Upcoming lists events from now until the given number of days ahead
func (c *CalendarExecutor) Upcoming(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	days := intArg(args, "days", 7)
	if days < 1 || days > 90 {
		return nil, apperrors.NewToolInvalidArguments(ToolCalendarUpcoming, "days must be between 1 and 90")
	}

	now := c.now()
	events, err := c.list(ctx, now, now.AddDate(0, 0, days), 20)
	if err != nil {
		return nil, upstreamFailure(ToolCalendarUpcoming, err)
	}

	summaries := summarizeEvents(events, 0)
	return &UpcomingEvents{Days: days, Count: len(summaries), Events: summaries}, nil
}

// Next returns the next event starting from now, if any
func (c *CalendarExecutor) Next(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	events, err := c.list(ctx, c.now(), time.Time{}, 1)
	if err != nil {
		return nil, upstreamFailure(ToolCalendarNext, err)
	}
	if len(events) == 0 {
		return map[string]interface{}{"next": nil, "message": "No upcoming events"}, nil
	}
	return summarizeEvents(events[:1], 0)[0], nil
}

func (c *CalendarExecutor) list(ctx context.Context, from, to time.Time, max int64) ([]*calendar.Event, error) {
	call := c.service.Events.List(primaryCalendar).
		TimeMin(from.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if !to.IsZero() {
		call = call.TimeMax(to.Format(time.RFC3339))
	}
	if max > 0 {
		call = call.MaxResults(max)
	}

	events, err := call.Do()
	if err != nil {
		return nil, err
	}
	return events.Items, nil
}

func summarizeEvents(events []*calendar.Event, locationWidth int) []EventSummary {
	summaries := make([]EventSummary, 0, len(events))
	for _, ev := range events {
		title := ev.Summary
		if title == "" {
			title = "No title"
		}
		s := EventSummary{Title: title}
		if ev.Start != nil {
			s.Start = ev.Start.DateTime
			if s.Start == "" {
				s.Start = ev.Start.Date
			}
		}
		if locationWidth > 0 {
			s.Location = clip(ev.Location, locationWidth)
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// CreatedEvent confirms a new event
type CreatedEvent struct {
	Created bool   `json:"created"`
	ID      string `json:"id"`
	Title   string `json:"title"`
}

// Create inserts an event. start and end are ISO datetimes; without an offset
// they are read in the configured timezone.
func (c *CalendarExecutor) Create(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	title := strings.TrimSpace(stringArg(args, "title", ""))
	if title == "" {
		return nil, apperrors.NewToolInvalidArguments(ToolCalendarCreate, "title must not be empty")
	}

	start, err := c.parseTime(stringArg(args, "start", ""))
	if err != nil {
		return nil, apperrors.NewToolInvalidArguments(ToolCalendarCreate, fmt.Sprintf("start: %v", err))
	}
	end, err := c.parseTime(stringArg(args, "end", ""))
	if err != nil {
		return nil, apperrors.NewToolInvalidArguments(ToolCalendarCreate, fmt.Sprintf("end: %v", err))
	}
	if !end.After(start) {
		return nil, apperrors.NewToolInvalidArguments(ToolCalendarCreate, "end must be after start")
	}

	tz := c.location.String()
	event := &calendar.Event{
		Summary:     title,
		Description: stringArg(args, "description", ""),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
	}

	created, err := c.service.Events.Insert(primaryCalendar, event).Context(ctx).Do()
	if err != nil {
		return nil, upstreamFailure(ToolCalendarCreate, err)
	}

	c.logger.Info("Calendar event created", zap.String("id", created.Id), zap.String("title", title))
	return &CreatedEvent{Created: true, ID: created.Id, Title: title}, nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func (c *CalendarExecutor) parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing datetime")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, c.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", value)
}
