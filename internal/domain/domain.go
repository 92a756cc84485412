package domain

import "strings"

const (
	TypeImport    = "Import"
	TypeExport    = "Export"
	TypeInTransit = "In-Transit"
)

const (
	StatusPending    = "Pending"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
	StatusDelayed    = "Delayed"
	StatusCancelled  = "Cancelled"
)

const (
	RequestNew       = "new"
	RequestReviewed  = "reviewed"
	RequestConverted = "converted"
	RequestDeclined  = "declined"
)

// DateLayout is the calendar date format used for shipment and due dates.
const DateLayout = "2006-01-02"

// Document is the root aggregate persisted as a single JSON blob.
type Document struct {
	Horses           []Horse           `json:"horses"`
	Owners           []Owner           `json:"owners"`
	Agents           []Agent           `json:"agents"`
	Shipments        []Shipment        `json:"shipments"`
	Customers        []Customer        `json:"customers"`
	ShipmentRequests []ShipmentRequest `json:"shipmentRequests"`
}

type AnimalLine struct {
	Type  string `json:"type" validate:"required"`
	Count int    `json:"count" validate:"gte=1"`
}

type AgentAllocation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" validate:"required_without=ID"`
	AnimalCount int    `json:"animalCount" validate:"gte=0"`
}

type Shipment struct {
	ID                 string            `json:"id"`
	ShipmentNumber     string            `json:"shipmentNumber,omitempty"`
	Type               string            `json:"type" enum:"Import,Export,In-Transit"`
	Status             string            `json:"status" enum:"Pending,In Progress,Completed,Delayed,Cancelled"`
	Date               string            `json:"date" format:"date"`
	OriginCountry      string            `json:"originCountry,omitempty"`
	OriginAirport      string            `json:"originAirport,omitempty"`
	DestinationCountry string            `json:"destinationCountry,omitempty"`
	DestinationAirport string            `json:"destinationAirport,omitempty"`
	AnimalType         string            `json:"animalType,omitempty"`
	NumAnimals         int               `json:"numAnimals,omitempty"`
	Animals            []AnimalLine      `json:"animals,omitempty"`
	HorseID            string            `json:"horseId,omitempty"`
	HorseName          string            `json:"horseName,omitempty"`
	OwnerID            string            `json:"ownerId,omitempty"`
	OwnerName          string            `json:"ownerName,omitempty"`
	Agents             []AgentAllocation `json:"agents,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	Tasks              []Task            `json:"tasks"`
	History            []HistoryEntry    `json:"history"`
	CreatedAt          string            `json:"createdAt,omitempty" format:"date-time"`
	UpdatedAt          string            `json:"updatedAt,omitempty" format:"date-time"`
}

// TotalAnimals prefers line items over the flat count when both are present.
func (s Shipment) TotalAnimals() int {
	if len(s.Animals) == 0 {
		return s.NumAnimals
	}
	total := 0
	for _, a := range s.Animals {
		total += a.Count
	}
	return total
}

// TaskIndex returns the position of the task in s.Tasks or -1.
func (s Shipment) TaskIndex(taskID string) int {
	for i, t := range s.Tasks {
		if t.ID == taskID {
			return i
		}
	}
	return -1
}

type TaskFile struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	UploadedAt string `json:"uploadedAt,omitempty" format:"date-time"`
}

type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Category        string     `json:"category,omitempty"`
	Completed       bool       `json:"completed"`
	DueDate         string     `json:"dueDate,omitempty" format:"date"`
	Overdue         bool       `json:"overdue,omitempty"`
	Required        bool       `json:"required"`
	EmailRecipients []string   `json:"emailRecipients"`
	Files           []TaskFile `json:"files"`
}

// FileIndex returns the position of the named file or -1.
func (t Task) FileIndex(name string) int {
	for i, f := range t.Files {
		if f.Name == name {
			return i
		}
	}
	return -1
}

type HistoryEntry struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Timestamp   string         `json:"timestamp" format:"date-time"`
	Details     map[string]any `json:"details,omitempty"`
}

type Agent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Company     string   `json:"company,omitempty"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Country     string   `json:"country,omitempty"`
	ShipmentIDs []string `json:"shipmentIds"`
}

type Horse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Breed       string   `json:"breed,omitempty"`
	Passport    string   `json:"passport,omitempty"`
	OwnerID     string   `json:"ownerId,omitempty"`
	ShipmentIDs []string `json:"shipmentIds"`
}

type Owner struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	ShipmentIDs []string `json:"shipmentIds"`
}

type Customer struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	LoyaltyPoints int      `json:"loyaltyPoints"`
	ShipmentIDs   []string `json:"shipmentIds"`
	JoinedAt      string   `json:"joinedAt,omitempty" format:"date-time"`
}

type ShipmentRequest struct {
	ID                 string `json:"id"`
	CustomerName       string `json:"customerName"`
	Email              string `json:"email"`
	Phone              string `json:"phone,omitempty"`
	Type               string `json:"type" enum:"Import,Export,In-Transit"`
	OriginCountry      string `json:"originCountry,omitempty"`
	DestinationCountry string `json:"destinationCountry,omitempty"`
	AnimalType         string `json:"animalType,omitempty"`
	NumAnimals         int    `json:"numAnimals,omitempty"`
	PreferredDate      string `json:"preferredDate,omitempty" format:"date"`
	Notes              string `json:"notes,omitempty"`
	Status             string `json:"status" enum:"new,reviewed,converted,declined"`
	ShipmentID         string `json:"shipmentId,omitempty"`
	CreatedAt          string `json:"createdAt" format:"date-time"`
}

// Normalize replaces absent lists with empty ones so callers can append
// to back-reference lists without nil checks.
func (d *Document) Normalize() {
	if d.Horses == nil {
		d.Horses = []Horse{}
	}
	if d.Owners == nil {
		d.Owners = []Owner{}
	}
	if d.Agents == nil {
		d.Agents = []Agent{}
	}
	if d.Shipments == nil {
		d.Shipments = []Shipment{}
	}
	if d.Customers == nil {
		d.Customers = []Customer{}
	}
	if d.ShipmentRequests == nil {
		d.ShipmentRequests = []ShipmentRequest{}
	}
	for i := range d.Horses {
		if d.Horses[i].ShipmentIDs == nil {
			d.Horses[i].ShipmentIDs = []string{}
		}
	}
	for i := range d.Owners {
		if d.Owners[i].ShipmentIDs == nil {
			d.Owners[i].ShipmentIDs = []string{}
		}
	}
	for i := range d.Agents {
		if d.Agents[i].ShipmentIDs == nil {
			d.Agents[i].ShipmentIDs = []string{}
		}
	}
	for i := range d.Customers {
		if d.Customers[i].ShipmentIDs == nil {
			d.Customers[i].ShipmentIDs = []string{}
		}
	}
	for i := range d.Shipments {
		d.Shipments[i].normalizeLists()
	}
}

func (s *Shipment) normalizeLists() {
	if s.Tasks == nil {
		s.Tasks = []Task{}
	}
	if s.History == nil {
		s.History = []HistoryEntry{}
	}
	for i := range s.Tasks {
		if s.Tasks[i].EmailRecipients == nil {
			s.Tasks[i].EmailRecipients = []string{}
		}
		if s.Tasks[i].Files == nil {
			s.Tasks[i].Files = []TaskFile{}
		}
	}
}

// ShipmentIndex returns the position of the shipment in d.Shipments or -1.
func (d Document) ShipmentIndex(id string) int {
	for i, s := range d.Shipments {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// ValidType reports whether t is one of the recognised shipment types.
func ValidType(t string) bool {
	switch t {
	case TypeImport, TypeExport, TypeInTransit:
		return true
	}
	return false
}

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusDelayed, StatusCancelled:
		return true
	}
	return false
}

func ValidRequestStatus(s string) bool {
	switch s {
	case RequestNew, RequestReviewed, RequestConverted, RequestDeclined:
		return true
	}
	return false
}

// TypeKey folds a shipment type into the lowercase key used by counters and
// task templates: "In-Transit", "in transit" and "transit" all map to "in-transit".
func TypeKey(t string) string {
	k := strings.Join(strings.Fields(strings.ToLower(t)), "-")
	if k == "transit" {
		return "in-transit"
	}
	return k
}
