package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// VehicleCategory drives the price multiplier of a vehicle.
type VehicleCategory string

const (
	CategoryCar   VehicleCategory = "CAR"
	CategoryBike  VehicleCategory = "BIKE"
	CategoryTruck VehicleCategory = "TRUCK"
)

var categoryMultipliers = map[VehicleCategory]decimal.Decimal{
	CategoryCar:   decimal.NewFromInt(1),
	CategoryBike:  decimal.NewFromFloat(0.5),
	CategoryTruck: decimal.NewFromInt(2),
}

// ParseCategory accepts a category name in any case. Empty means CAR.
func ParseCategory(s string) (VehicleCategory, error) {
	if s == "" {
		return CategoryCar, nil
	}
	c := VehicleCategory(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := categoryMultipliers[c]; !ok {
		return "", fmt.Errorf("unknown vehicle category %q", s)
	}
	return c, nil
}

// Multiplier returns the price multiplier, 1 for unknown categories.
func (c VehicleCategory) Multiplier() decimal.Decimal {
	if m, ok := categoryMultipliers[c]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

type Vehicle struct {
	ID            string          `json:"id" yaml:"id"`
	PreferredZone string          `json:"preferred_zone" yaml:"preferred_zone"`
	Category      VehicleCategory `json:"category" yaml:"category"`
}
