package models

import (
	"time"
)

// User represents a user in the system
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name,omitempty" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// WatchEntry marks a listing as watched by a user
type WatchEntry struct {
	ListingID string    `json:"listingId" db:"listing_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// WatchedListing is a watch entry joined with its listing
type WatchedListing struct {
	WatchEntry
	Listing *Listing `json:"listing"`
}
