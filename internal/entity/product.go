package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores when a record changed since it was read.
	ErrConflict = errors.New("write conflict")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidProduct = errors.New("invalid product")
)

type Product struct {
	ID        string    `json:"id"`
	FarmerID  string    `json:"farmerId"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`    // minor units
	Quantity  int64     `json:"quantity"` // units in stock, never negative
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" || p.FarmerID == "" {
		return ErrInvalidProduct
	}
	if p.Price <= 0 || p.Quantity < 0 {
		return ErrInvalidAmount
	}
	return nil
}
