// Package voices holds the built-in voice catalog.
package voices

import (
	"strings"

	"github.com/schollz/closestmatch"
)

// Voice is one selectable synthesis voice.
type Voice struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Gender string `json:"gender"`
}

// Catalog answers lookups against a fixed voice list.
type Catalog struct {
	list []Voice
	byID map[string]Voice
	cm   *closestmatch.ClosestMatch
}

// Builtin returns the catalog of voices the default backend accepts.
func Builtin() *Catalog {
	return New([]Voice{
		{ID: "alloy", Label: "Alloy", Gender: "female"},
		{ID: "ash", Label: "Ash", Gender: "male"},
		{ID: "ballad", Label: "Ballad", Gender: "male"},
		{ID: "coral", Label: "Coral", Gender: "female"},
		{ID: "echo", Label: "Echo", Gender: "male"},
		{ID: "fable", Label: "Fable", Gender: "female"},
		{ID: "nova", Label: "Nova", Gender: "female"},
		{ID: "onyx", Label: "Onyx", Gender: "male"},
		{ID: "sage", Label: "Sage", Gender: "female"},
		{ID: "shimmer", Label: "Shimmer", Gender: "female"},
		{ID: "verse", Label: "Verse", Gender: "male"},
	})
}

func New(list []Voice) *Catalog {
	byID := make(map[string]Voice, len(list))
	words := make([]string, 0, len(list)*2)
	for _, v := range list {
		byID[strings.ToLower(v.ID)] = v
		words = append(words, strings.ToLower(v.ID))
		if label := strings.ToLower(v.Label); label != strings.ToLower(v.ID) {
			words = append(words, label)
		}
	}
	return &Catalog{
		list: append([]Voice(nil), list...),
		byID: byID,
		cm:   closestmatch.New(words, []int{2}),
	}
}

// List returns all voices in catalog order.
func (c *Catalog) List() []Voice {
	return append([]Voice(nil), c.list...)
}

// Filter returns the voices matching gender; "" and "all" match everything.
func (c *Catalog) Filter(gender string) []Voice {
	gender = strings.ToLower(strings.TrimSpace(gender))
	if gender == "" || gender == "all" {
		return c.List()
	}
	var out []Voice
	for _, v := range c.list {
		if v.Gender == gender {
			out = append(out, v)
		}
	}
	return out
}

// Get returns the voice with the exact id.
func (c *Catalog) Get(id string) (Voice, bool) {
	v, ok := c.byID[strings.ToLower(id)]
	return v, ok
}

// Resolve maps free-form input to a catalog voice: exact id first, then exact
// label, then the closest fuzzy match.
func (c *Catalog) Resolve(name string) (Voice, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Voice{}, false
	}
	if v, ok := c.byID[needle]; ok {
		return v, true
	}
	for _, v := range c.list {
		if strings.ToLower(v.Label) == needle {
			return v, true
		}
	}
	match := c.cm.Closest(needle)
	if match == "" {
		return Voice{}, false
	}
	if v, ok := c.byID[match]; ok {
		return v, true
	}
	for _, v := range c.list {
		if strings.ToLower(v.Label) == match {
			return v, true
		}
	}
	return Voice{}, false
}
