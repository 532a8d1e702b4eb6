package assign

import (
	"context"
	"errors"
	"testing"

	"marketflow/catalog"
	"marketflow/location"
)

func TestAssign_SameCityOutranksCheaper(t *testing.T) {
	store := newFakeStore(
		catalog.Product{ID: "p-a", SupplierID: "sup-a", Name: "Rice 5kg", Price: 100, Stock: 10, IsActive: true},
		catalog.Product{ID: "p-b", SupplierID: "sup-b", Name: "Rice 5kg", Price: 90, Stock: 10, IsActive: true},
	)
	directory := fakeDirectory{
		"sup-a": {City: "Delhi", State: "Delhi"},
		"sup-b": {City: "Mumbai", State: "Maharashtra"},
	}
	engine := NewEngine(store, directory, fakeLocator{})

	result, err := engine.Assign(context.Background(),
		[]ItemRequest{{ProductID: "p-a", Quantity: 5}},
		BuyerLocation{City: "Delhi", State: "Delhi"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if result.SupplierID != "sup-a" {
		t.Fatalf("expected same-city supplier sup-a, got %s", result.SupplierID)
	}
	if !result.Audit.SameCity {
		t.Fatal("expected same-city audit flag")
	}
	if result.Audit.TotalCost != 500 {
		t.Fatalf("expected total cost 500, got %f", result.Audit.TotalCost)
	}
}

func TestAssign_CheapestWinsWithoutLocalityEdge(t *testing.T) {
	store := newFakeStore(
		catalog.Product{ID: "p-a", SupplierID: "sup-a", Name: "Rice 5kg", Price: 100, Stock: 10, IsActive: true},
		catalog.Product{ID: "p-b", SupplierID: "sup-b", Name: "Rice 5kg", Price: 90, Stock: 10, IsActive: true},
	)
	directory := fakeDirectory{
		"sup-a": {City: "Pune", State: "Maharashtra"},
		"sup-b": {City: "Nagpur", State: "Maharashtra"},
	}
	engine := NewEngine(store, directory, fakeLocator{})

	result, err := engine.Assign(context.Background(),
		[]ItemRequest{{ProductID: "p-a", Quantity: 2}},
		BuyerLocation{City: "Chennai", State: "Tamil Nadu"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if result.SupplierID != "sup-b" {
		t.Fatalf("expected cheaper supplier sup-b, got %s", result.SupplierID)
	}
}

func TestAssign_ChoosesCheapestRowPerLine(t *testing.T) {
	// One supplier lists the same good twice; the cheaper row with stock
	// must be chosen.
	store := newFakeStore(
		catalog.Product{ID: "p-1", SupplierID: "sup-a", Name: "Wheat 10kg", Price: 220, Stock: 10, IsActive: true},
		catalog.Product{ID: "p-2", SupplierID: "sup-a", Name: "Wheat 10kg", Price: 180, Stock: 10, IsActive: true},
		catalog.Product{ID: "p-3", SupplierID: "sup-a", Name: "Wheat 10kg", Price: 150, Stock: 1, IsActive: true},
	)
	directory := fakeDirectory{"sup-a": {City: "Delhi", State: "Delhi"}}
	engine := NewEngine(store, directory, fakeLocator{})

	result, err := engine.Assign(context.Background(),
		[]ItemRequest{{ProductID: "p-1", Quantity: 5}},
		BuyerLocation{City: "Delhi", State: "Delhi"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	// p-3 is cheapest but understocked; p-2 wins.
	if len(result.Items) != 1 || result.Items[0].ProductID != "p-2" {
		t.Fatalf("expected resolved item p-2, got %+v", result.Items)
	}
	if result.Items[0].UnitPrice != 180 {
		t.Fatalf("expected unit price 180, got %f", result.Items[0].UnitPrice)
	}
}

func TestAssign_SupplierMustCoverEveryLine(t *testing.T) {
	store := newFakeStore(
		catalog.Product{ID: "p-1", SupplierID: "sup-a", Name: "Rice 5kg", Price: 100, Stock: 10, IsActive: true},
		catalog.Product{ID: "p-2", SupplierID: "sup-b", Name: "Rice 5kg", Price: 90, Stock: 10, IsActive: true},
		catalog.Product{ID: "p-3", SupplierID: "sup-b", Name: "Oil 1L", Price: 150, Stock: 10, IsActive: true},
	)
	directory := fakeDirectory{
		"sup-a": {City: "Delhi", State: "Delhi"},
		"sup-b": {City: "Mumbai", State: "Maharashtra"},
	}
	engine := NewEngine(store, directory, fakeLocator{})

	// sup-a cannot supply oil, so even a same-city buyer lands on sup-b.
	result, err := engine.Assign(context.Background(),
		[]ItemRequest{{ProductID: "p-1", Quantity: 1}, {ProductID: "p-3", Quantity: 1}},
		BuyerLocation{City: "Delhi", State: "Delhi"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if result.SupplierID != "sup-b" {
		t.Fatalf("expected sup-b, got %s", result.SupplierID)
	}
}

func TestAssign_NoFulfillableSupplier(t *testing.T) {
	store := newFakeStore(
		catalog.Product{ID: "p-1", SupplierID: "sup-a", Name: "Rice 5kg", Price: 100, Stock: 2, IsActive: true},
	)
	engine := NewEngine(store, fakeDirectory{}, fakeLocator{})

	_, err := engine.Assign(context.Background(),
		[]ItemRequest{{ProductID: "p-1", Quantity: 5}},
		BuyerLocation{})
	if !errors.Is(err, ErrNoFulfillableSupplier) {
		t.Fatalf("expected ErrNoFulfillableSupplier, got %v", err)
	}
}

func TestAssign_InvalidItems(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, fakeDirectory{}, fakeLocator{})

	if _, err := engine.Assign(context.Background(), nil, BuyerLocation{}); !errors.Is(err, ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}

	if _, err := engine.Assign(context.Background(),
		[]ItemRequest{{ProductID: "ghost", Quantity: 1}},
		BuyerLocation{}); !errors.Is(err, ErrInvalidItems) {
		t.Fatalf("expected ErrInvalidItems, got %v", err)
	}

	if _, err := engine.Assign(context.Background(),
		[]ItemRequest{{ProductID: "p", Quantity: 0}},
		BuyerLocation{}); !errors.Is(err, ErrNoItems) {
		t.Fatalf("expected ErrNoItems for zero quantity, got %v", err)
	}
}

func TestAssign_DistanceBreaksLocalityTie(t *testing.T) {
	store := newFakeStore(
		catalog.Product{ID: "p-a", SupplierID: "sup-near", Name: "Rice 5kg", Price: 100, Stock: 10, IsActive: true},
		catalog.Product{ID: "p-b", SupplierID: "sup-far", Name: "Rice 5kg", Price: 80, Stock: 10, IsActive: true},
	)
	directory := fakeDirectory{
		"sup-near": {City: "Pune", State: "Maharashtra"},
		"sup-far":  {City: "Nagpur", State: "Maharashtra"},
	}
	locator := fakeLocator{
		coords: map[string]*location.Coordinates{
			"mumbai": {Lat: 19.0, Lng: 72.8},
			"pune":   {Lat: 18.5, Lng: 73.8},
			"nagpur": {Lat: 21.1, Lng: 79.0},
		},
	}
	engine := NewEngine(store, directory, locator)

	// Both suppliers share the buyer's state; the nearer one wins despite
	// being pricier.
	result, err := engine.Assign(context.Background(),
		[]ItemRequest{{ProductID: "p-a", Quantity: 1}},
		BuyerLocation{City: "Mumbai", State: "Maharashtra"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if result.SupplierID != "sup-near" {
		t.Fatalf("expected sup-near, got %s", result.SupplierID)
	}
	if result.Audit.DistanceKm == nil {
		t.Fatal("expected distance recorded in audit")
	}
}

type fakeStore struct {
	products []catalog.Product
}

func newFakeStore(products ...catalog.Product) *fakeStore {
	return &fakeStore{products: products}
}

func (f *fakeStore) ActiveByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]catalog.Product, 0, len(ids))
	for _, p := range f.products {
		if want[p.ID] && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveByNames(ctx context.Context, names []string) ([]catalog.Product, error) {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}
	out := make([]catalog.Product, 0)
	for _, p := range f.products {
		if want[p.Name] && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeDirectory map[string]BuyerLocation

func (f fakeDirectory) LocationOf(ctx context.Context, supplierID string) (BuyerLocation, error) {
	loc, ok := f[supplierID]
	if !ok {
		return BuyerLocation{}, errors.New("directory: not found")
	}
	return loc, nil
}

// fakeLocator resolves coordinates from a fixed map (normalized city key)
// and computes great-circle distances, mirroring the production fallback.
type fakeLocator struct {
	coords map[string]*location.Coordinates
}

func (f fakeLocator) Geocode(ctx context.Context, city, state string) (*location.Coordinates, error) {
	return f.coords[normalize(city)], nil
}

func (f fakeLocator) Distance(ctx context.Context, from, to *location.Coordinates) location.Route {
	resolver := location.NewResolver(location.NewMemoryCache(0), location.Config{}, nil)
	return resolver.Distance(ctx, from, to)
}
