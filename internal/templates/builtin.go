package templates

// Template is one checklist item of a shipment type. DaysBefore is the offset of the
// due date before the shipment date.
type Template struct {
	Title       string `json:"title" yaml:"title" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string `json:"category" yaml:"category" validate:"required"`
	Required    bool   `json:"required" yaml:"required"`
	DaysBefore  int    `json:"daysBefore" yaml:"days_before" validate:"gte=1"`
}

const (
	CategoryDocumentation = "Documentation"
	CategoryHealth        = "Health"
	CategoryCustoms       = "Customs"
	CategoryLogistics     = "Logistics"
	CategoryTransport     = "Transport"
)

var builtin = map[string][]Template{
	"import": {
		{Title: "Import permit application", Description: "Apply for the destination import permit.", Category: CategoryDocumentation, Required: true, DaysBefore: 30},
		{Title: "Health certificate", Description: "Obtain the official veterinary health certificate.", Category: CategoryHealth, Required: true, DaysBefore: 25},
		{Title: "Blood tests", Description: "Collect samples and submit to an approved laboratory.", Category: CategoryHealth, Required: true, DaysBefore: 21},
		{Title: "Vaccination records", Description: "Verify vaccinations are current and recorded in the passport.", Category: CategoryHealth, Required: true, DaysBefore: 18},
		{Title: "Customs pre-declaration", Description: "Lodge the customs pre-declaration with the broker.", Category: CategoryCustoms, Required: true, DaysBefore: 14},
		{Title: "Quarantine booking", Description: "Reserve quarantine stabling at the destination.", Category: CategoryLogistics, Required: true, DaysBefore: 10},
		{Title: "Flight booking confirmation", Description: "Confirm stall allocation with the airline.", Category: CategoryTransport, Required: true, DaysBefore: 7},
		{Title: "Ground transport arrangement", Description: "Book the horse box from the arrival airport.", Category: CategoryTransport, Required: false, DaysBefore: 3},
		{Title: "Arrival inspection", Description: "Schedule the border veterinary inspection.", Category: CategoryHealth, Required: true, DaysBefore: 1},
	},
	"export": {
		{Title: "Export license", Description: "Apply for the export license with the competent authority.", Category: CategoryDocumentation, Required: true, DaysBefore: 30},
		{Title: "Destination import permit", Description: "Confirm the buyer holds a valid import permit.", Category: CategoryDocumentation, Required: true, DaysBefore: 28},
		{Title: "Pre-export isolation", Description: "Start isolation at an approved premises.", Category: CategoryHealth, Required: true, DaysBefore: 24},
		{Title: "Blood tests", Description: "Collect samples for the destination test panel.", Category: CategoryHealth, Required: true, DaysBefore: 20},
		{Title: "Vaccination boosters", Description: "Administer boosters required by the destination.", Category: CategoryHealth, Required: false, DaysBefore: 16},
		{Title: "Export health certificate", Description: "Have the official veterinarian endorse the certificate.", Category: CategoryHealth, Required: true, DaysBefore: 12},
		{Title: "Customs export declaration", Description: "File the export declaration.", Category: CategoryCustoms, Required: true, DaysBefore: 9},
		{Title: "Flight booking confirmation", Description: "Confirm stall allocation and groom seats.", Category: CategoryTransport, Required: true, DaysBefore: 6},
		{Title: "Ground transport to airport", Description: "Book the horse box to the departure airport.", Category: CategoryTransport, Required: true, DaysBefore: 3},
		{Title: "Departure checklist", Description: "Final fitness-to-travel check and document pack.", Category: CategoryLogistics, Required: true, DaysBefore: 1},
	},
	"in-transit": {
		{Title: "Transit permit", Description: "Obtain transit authorisation for each intermediate country.", Category: CategoryDocumentation, Required: true, DaysBefore: 21},
		{Title: "Transit health certificate", Description: "Certificate covering every transit jurisdiction.", Category: CategoryHealth, Required: true, DaysBefore: 15},
		{Title: "Customs transit document", Description: "Issue the transit accompanying document.", Category: CategoryCustoms, Required: true, DaysBefore: 12},
		{Title: "Layover stabling", Description: "Reserve stabling at the transit hub.", Category: CategoryLogistics, Required: true, DaysBefore: 9},
		{Title: "Connecting flight confirmation", Description: "Confirm the onward flight and stall allocation.", Category: CategoryTransport, Required: true, DaysBefore: 6},
		{Title: "Feed and water plan", Description: "Arrange feed and water during the layover.", Category: CategoryLogistics, Required: false, DaysBefore: 3},
		{Title: "Transit veterinary check", Description: "Schedule the inspection at the transit hub.", Category: CategoryHealth, Required: true, DaysBefore: 1},
	},
}

var fallback = []Template{
	{Title: "Review shipment details", Description: "Check route, animals and contacts.", Category: CategoryLogistics, Required: true, DaysBefore: 14},
	{Title: "Confirm travel documents", Description: "Make sure every animal has its papers.", Category: CategoryDocumentation, Required: true, DaysBefore: 7},
}

// Builtin returns a copy of the built-in list for a type key, or the fallback pair.
func Builtin(shipmentType string) []Template {
	list, ok := builtin[typeKey(shipmentType)]
	if !ok {
		list = fallback
	}
	return append([]Template(nil), list...)
}

// Known reports whether a type has a built-in list.
func Known(shipmentType string) bool {
	_, ok := builtin[typeKey(shipmentType)]
	return ok
}
