package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const (
	RouteStores       = "/stores"
	RouteStoresSearch = "/stores/search"
	RouteBrands       = "/brands"
)

// Stores is the store registry.
type Stores struct {
	d *Dispatcher
}

func NewStores(d *Dispatcher) *Stores {
	return &Stores{d: d}
}

func (s *Stores) List(ctx context.Context) ([]Store, error) {
	var list storeList
	if err := s.d.DoJSON(ctx, http.MethodGet, RouteStores, nil, &list); err != nil {
		return nil, errors.Wrap(err, "[Stores.List]")
	}
	return list, nil
}

func (s *Stores) Create(ctx context.Context, req StoreRequest) (*Store, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("[Stores.Create] name is required")
	}
	var created Store
	if err := s.d.DoJSON(ctx, http.MethodPost, RouteStores, req, &created); err != nil {
		return nil, errors.Wrap(err, "[Stores.Create]")
	}
	return &created, nil
}

func (s *Stores) Update(ctx context.Context, id string, req StoreRequest) (*Store, error) {
	if id == "" {
		return nil, errors.New("[Stores.Update] id is required")
	}
	var updated Store
	if err := s.d.DoJSON(ctx, http.MethodPut, storePath(id), req, &updated); err != nil {
		return nil, errors.Wrapf(err, "[Stores.Update] %s", id)
	}
	return &updated, nil
}

func (s *Stores) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("[Stores.Delete] id is required")
	}
	return errors.Wrapf(s.d.DoJSON(ctx, http.MethodDelete, storePath(id), nil, nil), "[Stores.Delete] %s", id)
}

// Search matches stores by name on the server.
func (s *Stores) Search(ctx context.Context, name string) ([]Store, error) {
	endpoint := RouteStoresSearch + "?" + url.Values{"storeName": {name}}.Encode()
	var list storeList
	if err := s.d.DoJSON(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return nil, errors.Wrap(err, "[Stores.Search]")
	}
	return list, nil
}

func storePath(id string) string {
	return RouteStores + "/" + url.PathEscape(id)
}

type Brands struct {
	d *Dispatcher
}

func NewBrands(d *Dispatcher) *Brands {
	return &Brands{d: d}
}

// List returns the brand catalog, served as {"brands": [...]}.
func (b *Brands) List(ctx context.Context) ([]Brand, error) {
	var resp struct {
		Brands []Brand `json:"brands"`
	}
	if err := b.d.DoJSON(ctx, http.MethodGet, RouteBrands, nil, &resp); err != nil {
		return nil, errors.Wrap(err, "[Brands.List]")
	}
	return resp.Brands, nil
}
