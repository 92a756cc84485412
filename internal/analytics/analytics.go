// Package analytics derives loyalty tiers and shipment statistics from the document.
package analytics

import (
	"sort"
	"time"

	"shipline/internal/domain"
)

type Tier string

const (
	Bronze   Tier = "Bronze"
	Silver   Tier = "Silver"
	Gold     Tier = "Gold"
	Platinum Tier = "Platinum"
)

// Tiers lists tiers from lowest to highest.
var Tiers = []Tier{Bronze, Silver, Gold, Platinum}

// TierFor maps a points balance onto a tier.
func TierFor(points int) Tier {
	switch {
	case points >= 5000:
		return Platinum
	case points >= 1500:
		return Gold
	case points >= 500:
		return Silver
	default:
		return Bronze
	}
}

// PointsFor is the loyalty award for a completed shipment: 100 plus 10 per animal.
func PointsFor(s domain.Shipment) int {
	return 100 + 10*s.TotalAnimals()
}

type CustomerRank struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
	Tier   Tier   `json:"tier"`
}

type Summary struct {
	Shipments       int            `json:"shipments"`
	ByType          map[string]int `json:"byType"`
	ByStatus        map[string]int `json:"byStatus"`
	Animals         int            `json:"animals"`
	Tasks           int            `json:"tasks"`
	TasksCompleted  int            `json:"tasksCompleted"`
	CompletionRatio float64        `json:"completionRatio"`
	OverdueTasks    int            `json:"overdueTasks"`
	CustomersByTier map[Tier]int   `json:"customersByTier"`
	TopCustomers    []CustomerRank `json:"topCustomers"`
	OpenRequests    int            `json:"openRequests"`
}

// TopN bounds Summary.TopCustomers.
const TopN = 5

// IsOverdue reports whether an open task is flagged overdue or its due date lies before now.
func IsOverdue(t domain.Task, now time.Time) bool {
	if t.Completed {
		return false
	}
	if t.Overdue {
		return true
	}
	due, err := time.Parse(domain.DateLayout, t.DueDate)
	if err != nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return due.Before(today)
}

func Summarize(doc domain.Document, now time.Time) Summary {
	sum := Summary{
		ByType:          map[string]int{},
		ByStatus:        map[string]int{},
		CustomersByTier: map[Tier]int{},
		TopCustomers:    []CustomerRank{},
	}
	for _, s := range doc.Shipments {
		sum.Shipments++
		sum.ByType[s.Type]++
		sum.ByStatus[s.Status]++
		sum.Animals += s.TotalAnimals()
		for _, t := range s.Tasks {
			sum.Tasks++
			if t.Completed {
				sum.TasksCompleted++
			}
			if IsOverdue(t, now) {
				sum.OverdueTasks++
			}
		}
	}
	if sum.Tasks > 0 {
		sum.CompletionRatio = float64(sum.TasksCompleted) / float64(sum.Tasks)
	}
	for _, tier := range Tiers {
		sum.CustomersByTier[tier] = 0
	}
	ranks := make([]CustomerRank, 0, len(doc.Customers))
	for _, c := range doc.Customers {
		tier := TierFor(c.LoyaltyPoints)
		sum.CustomersByTier[tier]++
		ranks = append(ranks, CustomerRank{ID: c.ID, Name: c.Name, Points: c.LoyaltyPoints, Tier: tier})
	}
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].Points > ranks[j].Points })
	if len(ranks) > TopN {
		ranks = ranks[:TopN]
	}
	sum.TopCustomers = append(sum.TopCustomers, ranks...)
	for _, r := range doc.ShipmentRequests {
		if r.Status == domain.RequestNew || r.Status == domain.RequestReviewed {
			sum.OpenRequests++
		}
	}
	return sum
}
