package storage

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusReserved  = "reserved"
	StatusActive    = "active"
	StatusReturned  = "returned"
	StatusCancelled = "cancelled"
)

type Book struct {
	ID              uuid.UUID
	Title           string
	Author          string
	Genre           string
	Description     string
	ISBN            *string
	PublishedYear   *int
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
}

// Lending dates are calendar days held as midnight UTC.
type Lending struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	BookID           uuid.UUID
	BookTitle        string
	LendStartDate    time.Time
	LendEndDate      time.Time
	ActualReturnDate *time.Time
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LendingWithBook is a lending joined with its book. Book is nil when the
// book row no longer exists.
type LendingWithBook struct {
	Lending
	Book *Book
}
