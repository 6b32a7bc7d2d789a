package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MovementType classifies a ledger entry.
type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
)

// ErrInsufficientStock is returned when a reservation would drive stock negative.
var ErrInsufficientStock = errors.New("insufficient stock")

// Movement is one append-only inventory ledger entry.
type Movement struct {
	ProductID   string       `json:"productId"`
	Type        MovementType `json:"movementType"`
	Quantity    int          `json:"quantity"`
	ReferenceID *string      `json:"referenceId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Delta returns the signed stock change of the movement.
func (m Movement) Delta() int {
	if m.Type == MovementOut {
		return -m.Quantity
	}
	return m.Quantity
}

// CurrentStock folds movements into a stock level. In and adjustment entries
// add their quantity, out entries subtract it.
func CurrentStock(movements []Movement) int {
	stock := 0
	for _, m := range movements {
		stock += m.Delta()
	}
	return stock
}

// LiveStock is the stock information read for one product at submit time.
type LiveStock struct {
	Name          string
	StockQuantity int
	Movements     []Movement
}

// Available prefers the ledger and falls back to the denormalised column only
// when the product has no movements yet.
func (l LiveStock) Available() int {
	if len(l.Movements) == 0 {
		return l.StockQuantity
	}
	return CurrentStock(l.Movements)
}

// Requested is a quantity of a product the customer wants to buy.
type Requested struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

// IssueKind distinguishes sold out from partially available products.
type IssueKind string

const (
	IssueSoldOut      IssueKind = "sold_out"
	IssueInsufficient IssueKind = "insufficient"
)

// Issue describes one product that cannot be delivered in the requested quantity.
type Issue struct {
	ProductID string    `json:"productId"`
	Name      string    `json:"name"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	Kind      IssueKind `json:"kind"`
}

// ValidateStock checks every requested product against live stock and returns
// all issues found. Quantities of repeated products are summed. An empty
// result means the order may proceed. Products missing from live are treated
// as sold out.
func ValidateStock(lines []Requested, live map[string]LiveStock) []Issue {
	totals := make(map[string]int, len(lines))
	names := make(map[string]string, len(lines))
	order := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if _, seen := totals[l.ProductID]; !seen {
			order = append(order, l.ProductID)
			names[l.ProductID] = l.Name
		}
		totals[l.ProductID] += l.Quantity
	}

	var issues []Issue
	for _, id := range order {
		requested := totals[id]
		stock, ok := live[id]
		available := 0
		if ok {
			available = stock.Available()
		}
		if available >= requested {
			continue
		}
		name := names[id]
		if name == "" {
			name = stock.Name
		}
		kind := IssueInsufficient
		if available <= 0 {
			kind = IssueSoldOut
		}
		issues = append(issues, Issue{
			ProductID: id,
			Name:      name,
			Requested: requested,
			Available: max(available, 0),
			Kind:      kind,
		})
	}
	return issues
}

// ConflictError carries the full list of stock issues for a rejected order.
type ConflictError struct {
	Issues []Issue
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s (%s: requested %d, available %d)", is.Name, is.Kind, is.Requested, is.Available))
	}
	sort.Strings(parts)
	return "stock conflict: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match ErrInsufficientStock.
func (e *ConflictError) Unwrap() error { return ErrInsufficientStock }
