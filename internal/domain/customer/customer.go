package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a customer account does not exist.
var ErrNotFound = errors.New("customer not found")

// Role is the permission level of an account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// IsStaff reports whether the role may manage orders.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleStaff
}

// Address is a postal address as entered at checkout.
type Address struct {
	FullName string `json:"fullName,omitempty"`
	Line1    string `json:"line1,omitempty"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// IsZero reports whether no field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Customer is a registered account.
type Customer struct {
	ID              string   `json:"id"`
	Email           string   `json:"email"`
	Name            string   `json:"name"`
	Phone           string   `json:"phone,omitempty"`
	Role            Role     `json:"role"`
	BillingAddress  *Address `json:"billingAddress,omitempty"`
	ShippingAddress *Address `json:"shippingAddress,omitempty"`
}

// ProfileUpdate carries the checkout details saved back to an account.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	Name            string
	BillingAddress  *Address
	ShippingAddress *Address
}

// Repository provides account reads and profile updates.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Customer, error)
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) error
}
