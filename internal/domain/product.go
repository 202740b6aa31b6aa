package domain

import (
	"math"
	"time"
)

// ProductRef identifies a product within a provider's catalog.
type ProductRef struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Provider string `json:"provider"`
}

// Product is a compute reservation tier and its price.
type Product struct {
	ProductRef
	Description string `json:"description,omitempty"`
	CPU         int    `json:"cpu"`
	MemoryGB    int    `json:"memoryInGigs"`
	GPU         int    `json:"gpu"`
	// PricePerMinute is charged per replica and started minute.
	PricePerMinute int64 `json:"pricePerMinute"`
}

// Cost returns the credits for running replicas for d at pricePerMinute.
// Started minutes are billed in full.
func Cost(pricePerMinute int64, replicas int, d time.Duration) int64 {
	if d <= 0 || replicas <= 0 || pricePerMinute <= 0 {
		return 0
	}
	minutes := int64(math.Ceil(d.Minutes()))
	return minutes * pricePerMinute * int64(replicas)
}

// FeatureSet lists what a provider supports for one backend of a product.
type FeatureSet struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	Logs          bool `json:"logs" yaml:"logs"`
	Terminal      bool `json:"terminal" yaml:"terminal"`
	VNC           bool `json:"vnc" yaml:"vnc"`
	Web           bool `json:"web" yaml:"web"`
	Peers         bool `json:"peers" yaml:"peers"`
	TimeExtension bool `json:"timeExtension" yaml:"time_extension"`
	Suspension    bool `json:"suspension" yaml:"suspension"`
}

// ProductSupport is a provider's declared support for one product.
type ProductSupport struct {
	Product        ProductRef `json:"product" yaml:"product"`
	Docker         FeatureSet `json:"docker" yaml:"docker"`
	VirtualMachine FeatureSet `json:"virtualMachine" yaml:"virtual_machine"`
}

// Features returns the feature set for the given backend.
func (s ProductSupport) Features(b ToolBackend) FeatureSet {
	if b == BackendVirtualMachine {
		return s.VirtualMachine
	}
	return s.Docker
}

// ProviderManifest describes the capabilities of a provider.
type ProviderManifest struct {
	ProviderID string           `json:"providerId"`
	Products   []ProductSupport `json:"products"`
	FetchedAt  time.Time        `json:"fetchedAt"`
}

// Support returns the declared support for a product.
func (m ProviderManifest) Support(ref ProductRef) (ProductSupport, bool) {
	for _, s := range m.Products {
		if s.Product.ID == ref.ID && s.Product.Category == ref.Category {
			return s, true
		}
	}
	return ProductSupport{}, false
}
