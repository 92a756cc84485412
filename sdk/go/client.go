package shiplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Shipline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Category        string   `json:"category,omitempty"`
	Completed       bool     `json:"completed"`
	DueDate         string   `json:"dueDate,omitempty"`
	Required        bool     `json:"required"`
	EmailRecipients []string `json:"emailRecipients,omitempty"`
	Files           []File   `json:"files,omitempty"`
}

type File struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	UploadedAt string `json:"uploadedAt,omitempty"`
}

// Shipment represents the API shipment model (partial).
type Shipment struct {
	ID                 string `json:"id"`
	ShipmentNumber     string `json:"shipmentNumber"`
	Type               string `json:"type"`
	Status             string `json:"status"`
	Date               string `json:"date"`
	OriginCountry      string `json:"originCountry,omitempty"`
	DestinationCountry string `json:"destinationCountry,omitempty"`
	NumAnimals         int    `json:"numAnimals,omitempty"`
	Tasks              []Task `json:"tasks,omitempty"`
}

// NewShipment is the create payload; unset fields are omitted.
type NewShipment struct {
	Type               string `json:"type"`
	Date               string `json:"date"`
	OriginCountry      string `json:"originCountry,omitempty"`
	OriginAirport      string `json:"originAirport,omitempty"`
	DestinationCountry string `json:"destinationCountry,omitempty"`
	DestinationAirport string `json:"destinationAirport,omitempty"`
	AnimalType         string `json:"animalType,omitempty"`
	NumAnimals         int    `json:"numAnimals,omitempty"`
	HorseName          string `json:"horseName,omitempty"`
	OwnerName          string `json:"ownerName,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

// Request represents a customer shipment request.
type Request struct {
	ID            string `json:"id,omitempty"`
	CustomerName  string `json:"customerName"`
	Email         string `json:"email"`
	Type          string `json:"type"`
	NumAnimals    int    `json:"numAnimals,omitempty"`
	PreferredDate string `json:"preferredDate,omitempty"`
	Status        string `json:"status,omitempty"`
	ShipmentID    string `json:"shipmentId,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// CreateShipment books a shipment and returns it with its number and tasks.
func (c *Client) CreateShipment(ctx context.Context, in NewShipment) (Shipment, error) {
	var resp struct {
		Shipment Shipment `json:"shipment"`
	}
	err := c.do(ctx, http.MethodPost, "shipments", in, &resp)
	return resp.Shipment, err
}

// Shipments lists all shipments, or those on date of type when both are set.
func (c *Client) Shipments(ctx context.Context, date, shipmentType string) ([]Shipment, error) {
	endpoint := "shipments"
	if date != "" || shipmentType != "" {
		q := url.Values{}
		q.Set("date", date)
		q.Set("type", shipmentType)
		endpoint += "?" + q.Encode()
	}
	var resp []Shipment
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Shipment fetches a shipment by id.
func (c *Client) Shipment(ctx context.Context, id string) (Shipment, error) {
	var resp Shipment
	err := c.do(ctx, http.MethodGet, "shipments/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SetTaskCompleted marks a task done or open.
func (c *Client) SetTaskCompleted(ctx context.Context, shipmentID, taskID string, completed bool) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, taskPath(shipmentID, taskID), map[string]any{"completed": completed}, &resp)
	return resp, err
}

// UploadFile attaches data to a task under name, replacing a file of the same name.
func (c *Client) UploadFile(ctx context.Context, shipmentID, taskID, name, contentType string, data []byte) (Task, error) {
	var resp Task
	endpoint := taskPath(shipmentID, taskID) + "/files/" + url.PathEscape(name)
	err := c.send(ctx, http.MethodPut, endpoint, contentType, bytes.NewReader(data), &resp)
	return resp, err
}

// SendFile emails a task file. An empty emails list uses the task's recipients.
func (c *Client) SendFile(ctx context.Context, shipmentID, taskID, name string, emails []string) error {
	endpoint := taskPath(shipmentID, taskID) + "/files/" + url.PathEscape(name) + "/send"
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"emails": emails}, nil)
}

// SubmitRequest stores a customer request.
func (c *Client) SubmitRequest(ctx context.Context, in Request) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "requests", in, &resp)
	return resp, err
}

// ConvertRequest books a shipment from a request.
func (c *Client) ConvertRequest(ctx context.Context, requestID string) (Shipment, error) {
	var resp struct {
		Shipment Shipment `json:"shipment"`
	}
	err := c.do(ctx, http.MethodPost, "requests/"+url.PathEscape(requestID)+"/convert", map[string]any{}, &resp)
	return resp.Shipment, err
}

func taskPath(shipmentID, taskID string) string {
	return fmt.Sprintf("shipments/%s/tasks/%s", url.PathEscape(shipmentID), url.PathEscape(taskID))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
