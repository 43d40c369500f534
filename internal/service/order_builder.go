package service

import (
	"sort"

	"marketplace-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubmissionState tracks where a built order is in the submission workflow
type SubmissionState string

const (
	StateBuilding   SubmissionState = "building"
	StateValidating SubmissionState = "validating"
	StateSubmitting SubmissionState = "submitting"
	StateSucceeded  SubmissionState = "succeeded"
)

var hundred = decimal.NewFromInt(100)

// LineItem is one product and quantity in the cart
type LineItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// OrderBuilder accumulates a priced cart before submission. It is not safe
// for concurrent use; each request builds its own.
type OrderBuilder struct {
	placerRole   string
	counterparty uuid.UUID
	catalog      map[uuid.UUID]models.Product
	lines        map[uuid.UUID]int
	discount     decimal.Decimal
	notes        string
	state        SubmissionState
	lastErr      error
}

// NewOrderBuilder starts an empty cart placed by placerRole
func NewOrderBuilder(placerRole string) *OrderBuilder {
	return &OrderBuilder{
		placerRole: placerRole,
		catalog:    map[uuid.UUID]models.Product{},
		lines:      map[uuid.UUID]int{},
		discount:   decimal.Zero,
		state:      StateBuilding,
	}
}

// PlacerRole is the role of the party placing the order
func (b *OrderBuilder) PlacerRole() string {
	return b.placerRole
}

// Counterparty returns the selected counterparty, or uuid.Nil
func (b *OrderBuilder) Counterparty() uuid.UUID {
	return b.counterparty
}

// State returns the current submission state
func (b *OrderBuilder) State() SubmissionState {
	return b.state
}

// LastError returns the error of the most recent failed submission
func (b *OrderBuilder) LastError() error {
	return b.lastErr
}

// SelectCounterparty replaces the counterparty and clears all line items.
// Catalogs of different counterparties are disjoint.
func (b *OrderBuilder) SelectCounterparty(id uuid.UUID) {
	b.counterparty = id
	b.lines = map[uuid.UUID]int{}
}

// LoadCatalog replaces the loaded catalog; existing lines are kept
func (b *OrderBuilder) LoadCatalog(products []models.Product) {
	b.catalog = make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		b.catalog[p.ID] = p
	}
}

// SetLineItem upserts a line; quantity <= 0 removes it
func (b *OrderBuilder) SetLineItem(productID uuid.UUID, quantity int) {
	if quantity <= 0 {
		delete(b.lines, productID)
		return
	}
	b.lines[productID] = quantity
}

// SetDiscount sets the discount percent, which must be within [0, 100]
func (b *OrderBuilder) SetDiscount(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return invalid("discount_percent", ErrInvalidDiscount)
	}
	b.discount = percent
	return nil
}

// Discount returns the discount percent
func (b *OrderBuilder) Discount() decimal.Decimal {
	return b.discount
}

// SetNotes attaches free-text notes to the order
func (b *OrderBuilder) SetNotes(notes string) {
	b.notes = notes
}

// Lines returns the line items ordered by product ID
func (b *OrderBuilder) Lines() []LineItem {
	lines := make([]LineItem, 0, len(b.lines))
	for id, qty := range b.lines {
		lines = append(lines, LineItem{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].ProductID.String() < lines[j].ProductID.String()
	})
	return lines
}

// ComputeSubtotal sums quantity × catalog price over all lines
func (b *OrderBuilder) ComputeSubtotal() (decimal.Decimal, error) {
	subtotal := decimal.Zero
	for id, qty := range b.lines {
		product, ok := b.catalog[id]
		if !ok {
			return decimal.Zero, invalid("items", ErrUnknownProduct)
		}
		subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return subtotal, nil
}

// ComputeDiscountAmount is subtotal × discount / 100
func (b *OrderBuilder) ComputeDiscountAmount() (decimal.Decimal, error) {
	subtotal, err := b.ComputeSubtotal()
	if err != nil {
		return decimal.Zero, err
	}
	return subtotal.Mul(b.discount).Div(hundred), nil
}

// ComputeTotal is subtotal minus the discount amount
func (b *OrderBuilder) ComputeTotal() (decimal.Decimal, error) {
	subtotal, err := b.ComputeSubtotal()
	if err != nil {
		return decimal.Zero, err
	}
	return subtotal.Sub(subtotal.Mul(b.discount).Div(hundred)), nil
}

// Validate checks everything Submit needs without touching the backend
func (b *OrderBuilder) Validate(session *models.Session) error {
	if b.counterparty == uuid.Nil {
		return invalid("counterparty", ErrCounterpartyRequired)
	}
	if len(b.lines) == 0 {
		return invalid("items", ErrNoLineItems)
	}
	for id, qty := range b.lines {
		if _, ok := b.catalog[id]; !ok {
			return invalid("items", ErrUnknownProduct)
		}
		if qty <= 0 {
			return invalid("items", ErrInvalidQuantity)
		}
	}
	if session == nil || session.Role != b.placerRole || !models.IsValidRole(b.placerRole) {
		return invalid("session", ErrRoleMismatch)
	}
	return nil
}

// parties returns the distributor and retailer for an order placed by userID
func (b *OrderBuilder) parties(userID uuid.UUID) (distributorID, retailerID uuid.UUID) {
	if b.placerRole == models.RoleRetailer {
		return b.counterparty, userID
	}
	return userID, b.counterparty
}
