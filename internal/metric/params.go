package metric

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Params fixes the evaluation window and reference values shared by every
// metric. Hours are lead hours counted from midnight of the day.
type Params struct {
	WindowStart     int     `validate:"gte=0"`
	WindowEnd       int     `validate:"gtefield=WindowStart"`
	PersistenceHour int     `validate:"gte=0,ltfield=WindowStart"`
	Threshold       float64 `validate:"gte=0"`
	Observation     string  `validate:"required"`
}

func DefaultParams() Params {
	return Params{
		WindowStart:     13,
		WindowEnd:       35,
		PersistenceHour: 11,
		Threshold:       35.0,
		Observation:     "airnow",
	}
}

var validate = validator.New()

func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("metric params: %w", err)
	}
	return nil
}

// Hours lists the window hours in order, both ends included.
func (p Params) Hours() []int {
	hours := make([]int, 0, p.WindowEnd-p.WindowStart+1)
	for h := p.WindowStart; h <= p.WindowEnd; h++ {
		hours = append(hours, h)
	}
	return hours
}
