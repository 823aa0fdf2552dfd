package models

import "time"

type Role string

const (
	RolePassenger Role = "passenger"
	RoleAdmin     Role = "admin"
)

type PassengerInfo struct {
	Name            string `json:"name"`
	Age             int    `json:"age"`
	Gender          string `json:"gender"`
	BerthPreference string `json:"berth_preference,omitempty"`
}

// BookingRequest carries the caller identity explicitly; nothing is read from session state.
type BookingRequest struct {
	UserID      string          `json:"-"`
	TrainNo     string          `json:"train_no"`
	ClassID     string          `json:"class_id"`
	TravelDate  string          `json:"travel_date"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Passengers  []PassengerInfo `json:"passengers"`
}

type CancelRequest struct {
	PNR    string `json:"-"`
	UserID string `json:"-"`
	Role   Role   `json:"-"`
	Reason string `json:"reason"`
}

type RecordPaymentRequest struct {
	PNR       string        `json:"-"`
	UserID    string        `json:"-"`
	Role      Role          `json:"-"`
	Amount    float64       `json:"amount"`
	Mode      string        `json:"mode"`
	Status    PaymentStatus `json:"status,omitempty"`
	Reference string        `json:"reference,omitempty"`
}

// ClassOption is the per class view of one train in a search result.
type ClassOption struct {
	ClassID        string  `json:"class_id"`
	ClassName      string  `json:"class_name"`
	AvailableSeats int     `json:"available_seats"`
	FarePerSeat    float64 `json:"fare_per_seat"`
}

// TrainOption is one search result. TravelDate is the day the train leaves its
// origin; DepartureDay and ArrivalDay are days after it.
type TrainOption struct {
	TrainNo       string        `json:"train_no"`
	TrainName     string        `json:"train_name"`
	TrainType     string        `json:"train_type"`
	Source        string        `json:"source"`
	Destination   string        `json:"destination"`
	DepartureTime string        `json:"departure_time"`
	ArrivalTime   string        `json:"arrival_time"`
	DepartureDay  int           `json:"departure_day"`
	ArrivalDay    int           `json:"arrival_day"`
	DistanceKm    float64       `json:"distance_km"`
	TravelDate    string        `json:"travel_date"`
	Classes       []ClassOption `json:"classes"`
}

type TicketDetails struct {
	Ticket       *Ticket       `json:"ticket"`
	Payment      *Payment      `json:"payment,omitempty"`
	Cancellation *Cancellation `json:"cancellation,omitempty"`
}

type AvailabilityResponse struct {
	TrainNo        string    `json:"train_no"`
	ClassID        string    `json:"class_id"`
	TravelDate     string    `json:"travel_date"`
	AvailableSeats int       `json:"available_seats"`
	CheckedAt      time.Time `json:"checked_at"`
}
