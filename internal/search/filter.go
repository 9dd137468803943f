// Package search composes the read-side predicates over a catalog
// snapshot. Pure functions only: safe to run concurrently with writers,
// at the price of a momentarily stale reserved_count in the results.
package search

import (
	"sort"
	"strings"
	"time"

	"mealshare/internal/models"
	"mealshare/internal/schedule"
)

// Query holds the optional filter terms. Zero values mean "no filter".
type Query struct {
	Text     string
	Date     string
	Dietary  string
	Location string
	Now      time.Time
}

// Filter applies, in order: liveness, free-text, exact date, dietary tag,
// and location predicates, then sorts ascending by resolved start instant.
func Filter(events []models.Event, q Query) []models.Event {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}

	type scored struct {
		event models.Event
		start time.Time
	}

	matched := make([]scored, 0, len(events))
	for _, event := range events {
		if !schedule.IsLive(&event, now) {
			continue
		}
		if q.Text != "" && !matchesText(&event, q.Text) {
			continue
		}
		if q.Date != "" && event.EventDate != q.Date {
			continue
		}
		if q.Dietary != "" && !hasTag(event.DietaryTags, q.Dietary) {
			continue
		}
		if q.Location != "" && !containsFold(event.LocationCode, q.Location) {
			continue
		}

		window, err := schedule.Resolve(event.EventDate, event.TimeDesc)
		if err != nil {
			continue // liveness already excludes these; belt and braces
		}
		matched = append(matched, scored{event: event, start: window.Start})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].start.Before(matched[j].start)
	})

	result := make([]models.Event, len(matched))
	for i, m := range matched {
		result[i] = m.event
	}
	return result
}

// matchesText does a case-insensitive substring match over title,
// location code, and food item names.
func matchesText(event *models.Event, text string) bool {
	if containsFold(event.Title, text) || containsFold(event.LocationCode, text) {
		return true
	}
	for _, item := range event.FoodItems {
		if containsFold(item, text) {
			return true
		}
	}
	return false
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if strings.EqualFold(tag, want) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
