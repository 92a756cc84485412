package server

import (
	"shipline/internal/domain"
	"shipline/internal/templates"
)

// Request payloads

type StatusRequest struct {
	Status string `json:"status" enum:"Pending,In Progress,Completed,Delayed,Cancelled"`
}

type RecipientsRequest struct {
	Emails []string `json:"emails"`
}

type SendFileRequest struct {
	Emails []string `json:"emails,omitempty" doc:"Defaults to the task's recipients"`
}

type CreateAgentRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name" minLength:"1"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Country string `json:"country,omitempty"`
}

type CreateHorseRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name" minLength:"1"`
	Breed    string `json:"breed,omitempty"`
	Passport string `json:"passport,omitempty"`
	OwnerID  string `json:"ownerId,omitempty"`
}

type CreateOwnerRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name" minLength:"1"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type CreateCustomerRequest struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name" minLength:"1"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	LoyaltyPoints int    `json:"loyaltyPoints,omitempty"`
}

type CreateShipmentRequestRequest struct {
	CustomerName       string `json:"customerName" minLength:"1"`
	Email              string `json:"email" format:"email"`
	Phone              string `json:"phone,omitempty"`
	Type               string `json:"type" enum:"Import,Export,In-Transit"`
	OriginCountry      string `json:"originCountry,omitempty"`
	DestinationCountry string `json:"destinationCountry,omitempty"`
	AnimalType         string `json:"animalType,omitempty"`
	NumAnimals         int    `json:"numAnimals,omitempty"`
	PreferredDate      string `json:"preferredDate,omitempty" format:"date"`
	Notes              string `json:"notes,omitempty"`
}

type RequestStatusRequest struct {
	Status string `json:"status" enum:"new,reviewed,converted,declined"`
}

type ConvertRequestRequest struct {
	Date string `json:"date,omitempty" format:"date"`
}

type TemplatesRequest struct {
	Tasks []templates.Template `json:"tasks"`
}

type SeedRequest struct {
	Seed      uint64 `json:"seed,omitempty"`
	Shipments int    `json:"shipments,omitempty" maximum:"500"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actorId"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type SendFileResponse struct {
	Sent       bool     `json:"sent"`
	Recipients []string `json:"recipients"`
}

type FileURLResponse struct {
	URL string `json:"url"`
	// Direct is false when the URL is an internal blob reference that must be
	// fetched through the download route.
	Direct bool `json:"direct"`
}

type TemplatesResponse struct {
	Type     string               `json:"type"`
	Override bool                 `json:"override"`
	Tasks    []templates.Template `json:"tasks"`
}

type NumberResponse struct {
	Type   string `json:"type"`
	Next   string `json:"next"`
	Prefix string `json:"prefix"`
}

type SeedResponse struct {
	Shipments int `json:"shipments"`
	Agents    int `json:"agents"`
	Customers int `json:"customers"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actorId"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func agentFromRequest(in CreateAgentRequest) domain.Agent {
	return domain.Agent{ID: in.ID, Name: in.Name, Company: in.Company, Email: in.Email, Phone: in.Phone, Country: in.Country}
}

func horseFromRequest(in CreateHorseRequest) domain.Horse {
	return domain.Horse{ID: in.ID, Name: in.Name, Breed: in.Breed, Passport: in.Passport, OwnerID: in.OwnerID}
}

func ownerFromRequest(in CreateOwnerRequest) domain.Owner {
	return domain.Owner{ID: in.ID, Name: in.Name, Email: in.Email, Phone: in.Phone}
}

func customerFromRequest(in CreateCustomerRequest) domain.Customer {
	return domain.Customer{ID: in.ID, Name: in.Name, Email: in.Email, Phone: in.Phone, LoyaltyPoints: in.LoyaltyPoints}
}

func shipmentRequestFromRequest(in CreateShipmentRequestRequest) domain.ShipmentRequest {
	return domain.ShipmentRequest{
		CustomerName:       in.CustomerName,
		Email:              in.Email,
		Phone:              in.Phone,
		Type:               in.Type,
		OriginCountry:      in.OriginCountry,
		DestinationCountry: in.DestinationCountry,
		AnimalType:         in.AnimalType,
		NumAnimals:         in.NumAnimals,
		PreferredDate:      in.PreferredDate,
		Notes:              in.Notes,
	}
}
