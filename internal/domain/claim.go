package domain

// Flight identifies the flight a claim is filed for.
type Flight struct {
	Number        string
	DepartureDate string
	AirlineCode   string
}

// Passenger holds the personal details submitted with a claim.
type Passenger struct {
	Name        string
	Surname     string
	Email       string
	BookingCode string
}

// Claim is everything the claim tool needs for one eligibility check.
type Claim struct {
	Flight    Flight
	Passenger Passenger
}

// Key returns a stable identifier for the claim, used to group decision history.
func (c Claim) Key() string {
	return c.Flight.AirlineCode + c.Flight.Number + "#" + c.Flight.DepartureDate + "#" + c.Passenger.BookingCode
}
