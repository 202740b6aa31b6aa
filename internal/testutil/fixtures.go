package testutil

import (
	"encoding/json"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
)

const (
	ProviderID = "k8s"
	ProductID  = "u1-standard"
)

// StandardProduct is a one-cpu product at 10 credits per minute.
func StandardProduct() domain.Product {
	return domain.Product{
		ProductRef:     domain.ProductRef{ID: ProductID, Category: "u1", Provider: ProviderID},
		CPU:            1,
		MemoryGB:       4,
		PricePerMinute: 10,
	}
}

// AlphaApplication is alpha@1.0 with an integer, an enumeration and an optional input file.
func AlphaApplication() domain.Application {
	one, sixtyFour := 1.0, 64.0
	return domain.Application{
		Name:       "alpha",
		Version:    "1.0",
		Title:      "Alpha",
		Backend:    domain.BackendDocker,
		Image:      "registry.example/alpha:1.0",
		Invocation: []string{"alpha"},
		Parameters: []domain.ApplicationParameter{
			{Name: "threads", Type: domain.KindInteger, Min: &one, Max: &sixtyFour, Flag: "--threads", Default: json.RawMessage("4")},
			{Name: "mode", Type: domain.KindEnumeration, Optional: true, Options: []domain.EnumOption{
				{Name: "Fast", Value: "fast"}, {Name: "Slow", Value: "slow"},
			}},
			{Name: "input", Type: domain.KindInputFile, Optional: true},
			{Name: "link", Type: domain.KindIngress, Optional: true},
			{Name: "peer", Type: domain.KindPeer, Optional: true},
		},
	}
}

// Manifest declares full docker support for the standard product.
func Manifest() domain.ProviderManifest {
	features := domain.FeatureSet{
		Enabled: true, Logs: true, Terminal: true, Web: true, Peers: true, TimeExtension: true, Suspension: true,
	}
	return domain.ProviderManifest{
		ProviderID: ProviderID,
		Products: []domain.ProductSupport{
			{Product: StandardProduct().ProductRef, Docker: features},
		},
	}
}

// Specification requests alpha@1.0 on the standard product for one hour.
func Specification() domain.JobSpecification {
	return domain.JobSpecification{
		Application:    AlphaApplication().Ref(),
		Product:        StandardProduct().ProductRef,
		Replicas:       1,
		TimeAllocation: &domain.SimpleDuration{Hours: 1},
		Parameters:     domain.Parameters{},
	}
}
