// internal/timemap/pricing.go
package timemap

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// seasonDiscountCutover is when the season booking discount moved from 20%
// off to 10% off.
var seasonDiscountCutover = time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC)

// SeasonDiscountForDate returns the season booking discount multiplier in
// effect on a date.
func SeasonDiscountForDate(date time.Time) float64 {
	if date.Before(seasonDiscountCutover) {
		return 0.80
	}
	return 0.90
}

// TrainerCarveOut prices trainer bookings at the trainer fee alone, without
// the court tariff, for selected venues during a calendar window. Both bounds
// are exclusive; a zero bound is open.
type TrainerCarveOut struct {
	Hosts         []string
	From          time.Time
	To            time.Time
	ExcludedColor string
}

func (c TrainerCarveOut) active(host string, now time.Time, trainerColor string) bool {
	if trainerColor == c.ExcludedColor {
		return false
	}
	if !c.From.IsZero() && !now.After(c.From) {
		return false
	}
	if !c.To.IsZero() && !now.Before(c.To) {
		return false
	}
	for _, known := range c.Hosts {
		if known == host {
			return true
		}
	}
	return false
}

// PriceRequest is one span to price: a booking or a selected run on a court,
// together with that court type's per-slot tariff table.
type PriceRequest struct {
	TypeID       int
	CourtPrice   []float64
	TimeFrom     TimeOfDay
	TimeTo       TimeOfDay
	TrainerColor string
	OrderColor   string

	// CustomPrice overrides the tariff walk entirely when HasCustom is set.
	CustomPrice float64
	HasCustom   bool

	// Discount overrides the per-type schedule when HasDiscount is set.
	Discount    float64
	HasDiscount bool
}

// Quote is the priced result. Total = round(Price x Discount + Detail);
// Detail is the non-discountable part (the trainer fee).
type Quote struct {
	Price    float64 `json:"price"`
	Detail   float64 `json:"detail"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

// Pricer turns spans into quotes using the venue settings, the day's slot
// list, and the court type tariff tables.
type Pricer struct {
	settings Settings
	slots    []TimeSlot
	host     string
	carveOut TrainerCarveOut
	now      func() time.Time
}

// NewPricer builds a pricer for one venue and day.
func NewPricer(settings Settings, slots []TimeSlot, host string, carveOut TrainerCarveOut) *Pricer {
	return &Pricer{
		settings: settings,
		slots:    slots,
		host:     host,
		carveOut: carveOut,
		now:      time.Now,
	}
}

// Quote prices one span. Closed bookings always price to zero. Promo spans
// charge half the stock tariff per slot instead of the court tariff. Trainer
// spans charge the court tariff plus half the trainer tariff, the fee going
// into Detail so the discount never touches it; under an active carve-out
// the fee is the whole price. Season-with-trainer spans charge the court
// tariff alone.
func (p *Pricer) Quote(req PriceRequest) (Quote, error) {
	if len(p.slots) == 0 {
		return Quote{}, fmt.Errorf("price: no slot list")
	}
	if req.TimeTo.Seconds <= req.TimeFrom.Seconds {
		return Quote{}, fmt.Errorf("price: range %s-%s is empty", req.TimeFrom.Value, req.TimeTo.Value)
	}

	discount := p.settings.DiscountForType(req.TypeID)
	if req.HasDiscount {
		discount = req.Discount
	}
	if req.TypeID == TypeClosed {
		discount = 0
	}

	var price, detail float64
	if req.HasCustom {
		price = req.CustomPrice
	} else {
		trainerOnly := p.carveOut.active(p.host, p.now(), req.TrainerColor)
		first := p.slots[0].From.Seconds
		for seconds := req.TimeFrom.Seconds; seconds < req.TimeTo.Seconds; seconds += SlotSeconds {
			index := (seconds - first) / SlotSeconds
			switch req.TypeID {
			case TypePromo:
				price += p.tariffForColor("stock", req.OrderColor) / 2
			case TypeTrainer:
				if trainerOnly {
					price += p.tariffForColor("trainer", req.TrainerColor) / 2
				} else {
					price += p.courtTariff(req.CourtPrice, index)
					detail += p.tariffForColor("trainer", req.TrainerColor) / 2
				}
			default:
				price += p.courtTariff(req.CourtPrice, index)
			}
		}
	}

	return Quote{
		Price:    price,
		Detail:   detail,
		Discount: discount,
		Total:    math.Round(price*discount + detail),
	}, nil
}

func (p *Pricer) courtTariff(table []float64, index int) float64 {
	if index < 0 || index >= len(table) {
		return 0
	}
	return table[index]
}

// tariffForColor resolves a tariff from the parallel color and money maps:
// the first key with the given prefix whose color matches wins, in sorted
// key order, with "<prefix>1" as the fallback.
func (p *Pricer) tariffForColor(prefix, color string) float64 {
	keys := make([]string, 0, len(p.settings.Colors))
	for key := range p.settings.Colors {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if p.settings.Colors[key] == color {
			if money, ok := p.settings.Money[key]; ok {
				return money
			}
		}
	}
	return p.settings.Money[prefix+"1"]
}

// OrderItem is one priced sub-item of an order, as the upstream store keeps
// them, for month summaries.
type OrderItem struct {
	Date          string  `json:"date_at"`
	Price         float64 `json:"price"`
	Detail        float64 `json:"detail"`
	Discount      float64 `json:"discount"`
	DeleteSharing bool    `json:"delete_sharing"`
	DeletedAt     string  `json:"deleted_at"`
}

// MonthPrice sums the payable total for one calendar month. Deleted items
// are skipped unless their deletion is shared with the payer; each kept item
// rounds up, unlike the per-span quote.
func MonthPrice(items []OrderItem, year int, month time.Month) float64 {
	var total float64
	for _, item := range items {
		if item.DeletedAt != "" && !item.DeleteSharing {
			continue
		}
		date, err := time.Parse("2006-01-02", item.Date)
		if err != nil {
			continue
		}
		if date.Year() != year || date.Month() != month {
			continue
		}
		total += math.Ceil((item.Price-item.Detail)*item.Discount + item.Detail)
	}
	return total
}
