package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeSample is a single reading taken while charging. EnergyAdded is the
// cumulative energy added to the battery since the session started.
type ChargeSample struct {
	Date        time.Time `json:"date"`
	EnergyAdded float64   `json:"energyAdded"`
}

// Charge is a completed charging session that has not been priced yet.
type Charge struct {
	ID          int64          `json:"id"`
	StartDate   time.Time      `json:"startDate"`
	EndDate     time.Time      `json:"endDate"`
	EnergyAdded float64        `json:"energyAdded"`
	EnergyUsed  float64        `json:"energyUsed"`
	Samples     []ChargeSample `json:"samples"`
}

// ChargeCost is the computed price of a Charge.
type ChargeCost struct {
	ChargeID int64           `json:"chargeID"`
	Cost     decimal.Decimal `json:"cost"`
	Energy   float64         `json:"energy"`
}
