package model

import (
	"errors"
	"strings"
	"time"
)

// Category is the fixed set of event tags.
type Category string

const (
	CategoryAcademic    Category = "Academic"
	CategoryCareer      Category = "Career"
	CategorySports      Category = "Sports"
	CategoryArts        Category = "Arts & Culture"
	CategoryStudentLife Category = "Student Life"
	CategoryOther       Category = "Other"
)

// Categories lists every category in browse order.
var Categories = []Category{
	CategoryAcademic,
	CategoryCareer,
	CategorySports,
	CategoryArts,
	CategoryStudentLife,
	CategoryOther,
}

// categoryAliases maps lower-cased browse labels onto categories.
var categoryAliases = map[string]Category{
	"academic":                CategoryAcademic,
	"academic events":         CategoryAcademic,
	"academic & professional": CategoryAcademic,
	"career":                  CategoryCareer,
	"careers":                 CategoryCareer,
	"sports":                  CategorySports,
	"athletics":               CategorySports,
	"arts & culture":          CategoryArts,
	"arts & entertainment":    CategoryArts,
	"arts":                    CategoryArts,
	"student life":            CategoryStudentLife,
	"clubs":                   CategoryStudentLife,
	"other":                   CategoryOther,
	"other events":            CategoryOther,
}

// ParseCategory resolves a category name or browse label. Line breaks and
// repeated spaces are folded, matching is case-insensitive, and anything
// unrecognized is Other.
func ParseCategory(s string) Category {
	c, _ := LookupCategory(s)
	return c
}

// LookupCategory is ParseCategory that also reports whether s was recognized.
func LookupCategory(s string) (Category, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if c, ok := categoryAliases[key]; ok {
		return c, true
	}
	return CategoryOther, false
}

// Event is a single campus happening. Events are immutable once loaded into
// the catalog.
type Event struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Category    Category `json:"category" yaml:"category"`
	Date        string   `json:"date" yaml:"date"` // YYYY-MM-DD
	Time        string   `json:"time" yaml:"time"` // h:MM AM|PM
	Location    string   `json:"location" yaml:"location"`
	Description string   `json:"description" yaml:"description"`
	Organizer   string   `json:"organizer" yaml:"organizer"`
	Contact     string   `json:"contact" yaml:"contact"`
	Image       string   `json:"image" yaml:"image"`
}

// Allowed notification lead times in minutes.
var LeadTimes = []int{15, 30, 60, 120, 1440}

const DefaultLeadMinutes = 15

var ErrInvalidLeadTime = errors.New("notification lead time must be one of 15, 30, 60, 120, 1440 minutes")

// ValidLeadTime reports whether minutes is an allowed lead time.
func ValidLeadTime(minutes int) bool {
	for _, v := range LeadTimes {
		if v == minutes {
			return true
		}
	}
	return false
}

// Preferences is the per-user preference map. Nil fields are absent: a
// merge write leaves the stored value untouched.
type Preferences struct {
	NotificationTime *int    `json:"notificationTime,omitempty"`
	LocationEnabled  *bool   `json:"locationEnabled,omitempty"`
	Bio              *string `json:"bio,omitempty"`
	DisplayName      *string `json:"displayName,omitempty"`
}

// Validate checks the fields that have a restricted domain.
func (p Preferences) Validate() error {
	if p.NotificationTime != nil && !ValidLeadTime(*p.NotificationTime) {
		return ErrInvalidLeadTime
	}
	return nil
}

// Merge returns p with every non-nil field of patch applied.
func (p Preferences) Merge(patch Preferences) Preferences {
	if patch.NotificationTime != nil {
		v := *patch.NotificationTime
		p.NotificationTime = &v
	}
	if patch.LocationEnabled != nil {
		v := *patch.LocationEnabled
		p.LocationEnabled = &v
	}
	if patch.Bio != nil {
		v := *patch.Bio
		p.Bio = &v
	}
	if patch.DisplayName != nil {
		v := *patch.DisplayName
		p.DisplayName = &v
	}
	return p
}

// LeadMinutes is the effective reminder lead time.
func (p Preferences) LeadMinutes() int {
	if p.NotificationTime != nil && *p.NotificationTime > 0 {
		return *p.NotificationTime
	}
	return DefaultLeadMinutes
}

// Location reports the location-sharing toggle, default off.
func (p Preferences) Location() bool {
	return p.LocationEnabled != nil && *p.LocationEnabled
}

// Session is the signed-in user. A nil *Session means signed out.
type Session struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Token       string    `json:"-"`
	SignedInAt  time.Time `json:"signedInAt"`
}

// Reminder is a pending local notification for a saved event.
type Reminder struct {
	ID      string    `json:"id"`
	EventID string    `json:"eventId"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	At      time.Time `json:"at"`
}
