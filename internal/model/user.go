package model

import "time"

type Profile struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	IsAdmin      bool      `json:"isAdmin"`
	PasswordHash string    `json:"-"`
}

// Member is the admin listing view of a profile.
type Member struct {
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

const DefaultMaintenanceMessage = "Scheduling is temporarily disabled for maintenance. Please try again later."

// Maintenance is the global flag that blocks new scheduling.
type Maintenance struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}
