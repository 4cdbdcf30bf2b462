package serve

import "strconv"

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.977 generate -f pages.templ

// formView is everything the prediction page renders.
type formView struct {
	ModelName  string
	Version    string
	Values     map[string]string
	Prediction *float64
	Error      string
}

var fieldLabels = map[string]string{
	"Open":      "Open",
	"High":      "High",
	"Low":       "Low",
	"Adj_Close": "Adjusted close",
	"Volume":    "Volume",
	"year":      "Year",
	"month":     "Month",
	"day":       "Day",
}

func formatPrediction(y float64) string {
	return strconv.FormatFloat(y, 'f', 4, 64)
}

// fieldStep is the step attribute of a feature input. Date parts are whole
// numbers.
func fieldStep(name string) string {
	if isIntegerField(name) {
		return "1"
	}
	return "any"
}

func isIntegerField(name string) bool {
	return name == "year" || name == "month" || name == "day"
}
