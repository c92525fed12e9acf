package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategoryAliases(t *testing.T) {
	cases := map[string]Category{
		"Academic":                CategoryAcademic,
		"Academic\nEvents":        CategoryAcademic,
		"Academic &\nProfessional": CategoryAcademic,
		"Athletics":               CategorySports,
		"arts &  culture":         CategoryArts,
		"Arts &\nEntertainment":   CategoryArts,
		"Clubs":                   CategoryStudentLife,
		"Student Life":            CategoryStudentLife,
		"Career":                  CategoryCareer,
		"Other Events":            CategoryOther,
		"Underwater Basketry":     CategoryOther,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseCategory(in), in)
	}

	_, ok := LookupCategory("Underwater Basketry")
	assert.False(t, ok)
}

func TestPreferencesMergeLeavesAbsentKeys(t *testing.T) {
	lead := 60
	bio := "CS junior"
	stored := Preferences{NotificationTime: &lead, Bio: &bio}

	on := true
	merged := stored.Merge(Preferences{LocationEnabled: &on})

	assert.Equal(t, 60, merged.LeadMinutes())
	assert.True(t, merged.Location())
	assert.Equal(t, "CS junior", *merged.Bio)
	assert.Nil(t, merged.DisplayName)
}

func TestPreferencesDefaults(t *testing.T) {
	var p Preferences
	assert.Equal(t, 15, p.LeadMinutes())
	assert.False(t, p.Location())
	assert.NoError(t, p.Validate())
}

func TestPreferencesValidate(t *testing.T) {
	for _, v := range LeadTimes {
		assert.NoError(t, Preferences{NotificationTime: &v}.Validate())
	}
	bad := 45
	assert.ErrorIs(t, Preferences{NotificationTime: &bad}.Validate(), ErrInvalidLeadTime)
}
