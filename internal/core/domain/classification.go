package domain

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) level() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is as confident as min.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.level() > 0 && c.level() >= min.level()
}

// Classification is an advisory routing hint for a query.
type Classification struct {
	PrimaryCategory string             `json:"primary_category,omitempty"`
	Weights         map[string]float64 `json:"weights"`
	Confidence      Confidence         `json:"confidence"`
	QueryType       string             `json:"query_type"`
}
