package rondo

import "math"

// Reducer aggregates a window of source samples into one destination
// sample (§4.3). Each reducer filters out non-finite inputs first and
// returns NaN for an empty filtered slice.
type Reducer int

const (
	// Average is the arithmetic mean of finite values.
	Average Reducer = iota + 1
	// Min is the IEEE-754 minimum of finite values.
	Min
	// Max is the IEEE-754 maximum of finite values.
	Max
	// Last is the most recently produced finite value.
	Last
	// Sum is the arithmetic sum of finite values.
	Sum
	// Count is the number of finite values.
	Count
)

func (red Reducer) String() string {
	switch red {
	case Average:
		return "average"
	case Min:
		return "min"
	case Max:
		return "max"
	case Last:
		return "last"
	case Sum:
		return "sum"
	case Count:
		return "count"
	default:
		return "unknown"
	}
}

func (red Reducer) valid() bool {
	return red >= Average && red <= Count
}

// apply reduces values (in chronological order) to one destination value.
// Non-finite entries are filtered out first; an empty filtered slice yields
// NaN for every reducer, including Count.
func (red Reducer) apply(values []float64) float64 {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}

	if len(finite) == 0 {
		return math.NaN()
	}

	switch red {
	case Average:
		var sum float64
		for _, v := range finite {
			sum += v
		}
		return sum / float64(len(finite))
	case Min:
		m := finite[0]
		for _, v := range finite[1:] {
			m = math.Min(m, v)
		}
		return m
	case Max:
		m := finite[0]
		for _, v := range finite[1:] {
			m = math.Max(m, v)
		}
		return m
	case Last:
		return finite[len(finite)-1]
	case Sum:
		var sum float64
		for _, v := range finite {
			sum += v
		}
		return sum
	case Count:
		return float64(len(finite))
	default:
		return math.NaN()
	}
}
