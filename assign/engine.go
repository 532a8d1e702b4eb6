package assign

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"marketflow/catalog"
	"marketflow/location"
)

var (
	// ErrNoItems signals an empty cart.
	ErrNoItems = errors.New("assign: items are required")
	// ErrInvalidItems signals a requested product that is missing or inactive.
	ErrInvalidItems = errors.New("assign: some products are invalid or inactive")
	// ErrNoFulfillableSupplier signals that no single supplier covers the cart.
	ErrNoFulfillableSupplier = errors.New("assign: no supplier can fulfill all requested items")
)

// ItemRequest is one cart line referencing a buyer-visible product.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ResolvedItem is a cart line resolved to the chosen supplier's own catalog
// row for the same-named good.
type ResolvedItem struct {
	ProductID string
	Quantity  int
	UnitPrice float64
}

// BuyerLocation is the buyer's city/state pair; either field may be empty.
type BuyerLocation struct {
	City  string
	State string
}

// Audit snapshots the ranking factors behind a winning assignment so the
// decision can be explained after the fact.
type Audit struct {
	SameCity      bool
	SameState     bool
	DistanceKm    *float64
	TotalCost     float64
	BuyerCity     string
	BuyerState    string
	SupplierCity  string
	SupplierState string
}

// Result is a winning assignment.
type Result struct {
	SupplierID string
	Items      []ResolvedItem
	Audit      Audit
}

// ProductStore is the slice of the catalog the engine reads. Stock is never
// mutated here; selection is pure.
type ProductStore interface {
	ActiveByIDs(ctx context.Context, ids []string) ([]catalog.Product, error)
	ActiveByNames(ctx context.Context, names []string) ([]catalog.Product, error)
}

// Directory resolves a supplier id to its registered city/state.
type Directory interface {
	LocationOf(ctx context.Context, supplierID string) (BuyerLocation, error)
}

// Locator provides geocoding and distance with graceful degradation.
type Locator interface {
	Geocode(ctx context.Context, city, state string) (*location.Coordinates, error)
	Distance(ctx context.Context, from, to *location.Coordinates) location.Route
}

// Engine selects the supplier that fulfills a whole cart, ranked by
// locality, then distance, then cost.
type Engine struct {
	store     ProductStore
	directory Directory
	locator   Locator
}

// NewEngine wires the assignment engine.
func NewEngine(store ProductStore, directory Directory, locator Locator) *Engine {
	return &Engine{
		store:     store,
		directory: directory,
		locator:   locator,
	}
}

type requestedLine struct {
	nameKey  string
	quantity int
}

type candidate struct {
	supplierID string
	items      []ResolvedItem
	totalCost  float64
}

type scoredCandidate struct {
	candidate
	sameCity      bool
	sameState     bool
	distanceKm    float64
	supplierCity  string
	supplierState string
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Assign picks the supplier for the cart. The comparable universe is every
// active product sharing a requested product's name; each supplier must
// cover every line with sufficient stock, cheapest same-named row first.
func (e *Engine) Assign(ctx context.Context, items []ItemRequest, buyerLoc BuyerLocation) (Result, error) {
	if len(items) == 0 {
		return Result{}, ErrNoItems
	}
	for _, item := range items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return Result{}, ErrNoItems
		}
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	requested, err := e.store.ActiveByIDs(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("assign: load requested products: %w", err)
	}
	if len(requested) != len(items) {
		return Result{}, ErrInvalidItems
	}

	requestedByID := make(map[string]catalog.Product, len(requested))
	names := make([]string, 0, len(requested))
	for _, p := range requested {
		requestedByID[p.ID] = p
		names = append(names, p.Name)
	}

	lines := make([]requestedLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, requestedLine{
			nameKey:  normalize(requestedByID[item.ProductID].Name),
			quantity: item.Quantity,
		})
	}

	universe, err := e.store.ActiveByNames(ctx, names)
	if err != nil {
		return Result{}, fmt.Errorf("assign: load comparable products: %w", err)
	}

	bySupplier := make(map[string][]catalog.Product)
	supplierOrder := make([]string, 0)
	for _, p := range universe {
		if _, seen := bySupplier[p.SupplierID]; !seen {
			supplierOrder = append(supplierOrder, p.SupplierID)
		}
		bySupplier[p.SupplierID] = append(bySupplier[p.SupplierID], p)
	}

	candidates := make([]candidate, 0, len(supplierOrder))
	for _, supplierID := range supplierOrder {
		if c, ok := buildCandidate(supplierID, bySupplier[supplierID], lines); ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Result{}, ErrNoFulfillableSupplier
	}

	scored, err := e.scoreCandidates(ctx, candidates, bySupplier, buyerLoc)
	if err != nil {
		return Result{}, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.sameCity != b.sameCity {
			return a.sameCity
		}
		if a.sameState != b.sameState {
			return a.sameState
		}
		if a.distanceKm != b.distanceKm {
			return a.distanceKm < b.distanceKm
		}
		return a.totalCost < b.totalCost
	})

	best := scored[0]
	audit := Audit{
		SameCity:      best.sameCity,
		SameState:     best.sameState,
		TotalCost:     best.totalCost,
		BuyerCity:     strings.TrimSpace(buyerLoc.City),
		BuyerState:    strings.TrimSpace(buyerLoc.State),
		SupplierCity:  best.supplierCity,
		SupplierState: best.supplierState,
	}
	if !math.IsInf(best.distanceKm, 1) {
		km := best.distanceKm
		audit.DistanceKm = &km
	}

	return Result{
		SupplierID: best.supplierID,
		Items:      best.items,
		Audit:      audit,
	}, nil
}

// buildCandidate attempts to cover every requested line from one supplier's
// rows, choosing the cheapest same-named product with sufficient stock.
func buildCandidate(supplierID string, products []catalog.Product, lines []requestedLine) (candidate, bool) {
	byName := make(map[string][]catalog.Product)
	for _, p := range products {
		key := normalize(p.Name)
		if key == "" {
			continue
		}
		byName[key] = append(byName[key], p)
	}

	items := make([]ResolvedItem, 0, len(lines))
	var totalCost float64

	for _, line := range lines {
		var selected *catalog.Product
		for i := range byName[line.nameKey] {
			option := &byName[line.nameKey][i]
			if option.Stock < line.quantity {
				continue
			}
			if selected == nil || option.Price < selected.Price {
				selected = option
			}
		}
		if selected == nil {
			return candidate{}, false
		}

		items = append(items, ResolvedItem{
			ProductID: selected.ID,
			Quantity:  line.quantity,
			UnitPrice: selected.Price,
		})
		totalCost += selected.Price * float64(line.quantity)
	}

	return candidate{
		supplierID: supplierID,
		items:      items,
		totalCost:  totalCost,
	}, true
}

func (e *Engine) scoreCandidates(
	ctx context.Context,
	candidates []candidate,
	bySupplier map[string][]catalog.Product,
	buyerLoc BuyerLocation,
) ([]scoredCandidate, error) {
	buyerCity := normalize(buyerLoc.City)
	buyerState := normalize(buyerLoc.State)

	buyerCoords, err := e.locator.Geocode(ctx, buyerLoc.City, buyerLoc.State)
	if err != nil {
		return nil, fmt.Errorf("assign: geocode buyer: %w", err)
	}

	scored := make([]scoredCandidate, len(candidates))
	g, gctx := errgroup.WithContext(ctx)

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			supplierLoc, dirErr := e.directory.LocationOf(gctx, c.supplierID)
			if dirErr != nil {
				// A supplier missing from the directory still competes;
				// it just can't win a locality match.
				supplierLoc = BuyerLocation{}
			}

			supplierCityRaw := supplierLoc.City
			if supplierCityRaw == "" {
				for _, p := range bySupplier[c.supplierID] {
					if p.City != "" {
						supplierCityRaw = p.City
						break
					}
				}
			}
			supplierCity := normalize(supplierCityRaw)
			supplierState := normalize(supplierLoc.State)

			supplierCoords, geoErr := e.locator.Geocode(gctx, supplierLoc.City, supplierLoc.State)
			if geoErr != nil {
				return fmt.Errorf("assign: geocode supplier %s: %w", c.supplierID, geoErr)
			}
			route := e.locator.Distance(gctx, buyerCoords, supplierCoords)

			scored[i] = scoredCandidate{
				candidate:     c,
				sameCity:      buyerCity != "" && supplierCity != "" && buyerCity == supplierCity,
				sameState:     buyerState != "" && supplierState != "" && buyerState == supplierState,
				distanceKm:    route.DistanceKm,
				supplierCity:  supplierCityRaw,
				supplierState: supplierLoc.State,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scored, nil
}
