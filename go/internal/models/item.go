package models

import "time"

// ItemStatus defines the workflow status of a backlog item.
type ItemStatus string

const (
	ItemStatusBacklog    ItemStatus = "BACKLOG"
	ItemStatusInProgress ItemStatus = "IN_PROGRESS"
	ItemStatusDone       ItemStatus = "DONE"
)

// Item is a product backlog item as seen through the item catalog.
type Item struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      ItemStatus `json:"status"`
	StoryPoint  *int       `json:"storyPoint,omitempty"`
	Memo        string     `json:"memo,omitempty"`
	Sprint      string     `json:"sprint,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
